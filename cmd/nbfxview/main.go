package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blang/semver"
	"github.com/op/go-logging"
	"github.com/urfave/cli"

	"github.com/Macmod/go-nbfx/compression"
	"github.com/Macmod/go-nbfx/dictionary"
	"github.com/Macmod/go-nbfx/nbfx"
	"github.com/Macmod/go-nbfx/server"
	"github.com/Macmod/go-nbfx/soap"
	"github.com/Macmod/go-nbfx/viewer"
)

var CurrentVersion = semver.MustParse("0.4.0")

var decodeFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "compression, c",
		Value:  "auto",
		Usage:  "payload compression: none, gzip, deflate or auto",
		EnvVar: "NBFXVIEW_COMPRESSION",
	},
	cli.BoolFlag{
		Name:   "pretty, p",
		Usage:  "indent the decoded XML",
		EnvVar: "NBFXVIEW_PRETTY",
	},
	cli.BoolFlag{
		Name:   "wcf, w",
		Usage:  "resolve dictionary strings with the built-in WCF table",
		EnvVar: "NBFXVIEW_WCF",
	},
	cli.StringFlag{
		Name:   "dict, d",
		Usage:  "JSON dictionary file used when --wcf is not set",
		EnvVar: "NBFXVIEW_DICT",
	},
	cli.StringFlag{
		Name:   "framing",
		Value:  "none",
		Usage:  "what wraps the records: none, nbfse or nmf",
		EnvVar: "NBFXVIEW_FRAMING",
	},
}

func main() {
	setupLogging(logging.WARNING)

	app := cli.NewApp()
	app.Name = "nbfxview"
	app.Usage = "decode .NET binary XML (NBFX) payloads"
	app.Version = CurrentVersion.String()
	app.Commands = []cli.Command{
		{
			Name:      "decode",
			Usage:     "Decode one base64 payload given as argument, --file or stdin",
			ArgsUsage: "[base64]",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "file, f",
					Usage: "read the base64 payload from a file",
				},
				cli.BoolFlag{
					Name:  "summary, s",
					Usage: "print the SOAP addressing headers and fault to stderr",
				},
			}, decodeFlags...),
			Action: decodeCommand,
		},
		{
			Name:   "watch",
			Usage:  "Decode every stdin line, dropping results that a newer line supersedes",
			Flags:  decodeFlags,
			Action: watchCommand,
		},
		{
			Name:  "dict",
			Usage: "Dictionary import and export",
			Subcommands: []cli.Command{
				{
					Name:  "export",
					Usage: "Print the built-in table, or the --dict file, as JSON",
					Flags: []cli.Flag{
						cli.StringFlag{
							Name:  "dict, d",
							Usage: "export this dictionary file instead of the built-in table",
						},
					},
					Action: dictExportCommand,
				},
				{
					Name:      "import",
					Usage:     "Read a JSON dictionary file and print its usable rows",
					ArgsUsage: "FILE",
					Action:    dictImportCommand,
				},
			},
		},
		{
			Name:  "serve",
			Usage: "Serve the decode API over HTTP",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "addr, a",
					Value:  "127.0.0.1:8080",
					Usage:  "listen address",
					EnvVar: "NBFXVIEW_ADDR",
				},
				cli.StringSliceFlag{
					Name:  "origin",
					Usage: "allowed CORS origin (repeatable, default *)",
				},
			},
			Action: serveCommand,
		},
		{
			Name:  "version",
			Usage: "Print the nbfxview version",
			Action: func(c *cli.Context) error {
				fmt.Println(CurrentVersion.String())
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// requestFromFlags builds a Request from the decode flags. The payload is
// filled in by the caller.
func requestFromFlags(c *cli.Context) (viewer.Request, error) {
	req := viewer.NewRequest("")

	mode, err := compression.ParseMode(c.String("compression"))
	if err != nil {
		return req, err
	}
	framing, err := nbfx.ParseFraming(c.String("framing"))
	if err != nil {
		return req, err
	}
	req.Compression = mode
	req.Framing = framing
	req.PrettyPrint = c.Bool("pretty")
	req.UseBuiltInDictionary = c.Bool("wcf")

	if path := c.String("dict"); path != "" && !req.UseBuiltInDictionary {
		if req.Rows, err = loadRows(path); err != nil {
			return req, err
		}
	}
	return req, nil
}

func loadRows(path string) ([]dictionary.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary: %w", err)
	}
	defer f.Close()
	return dictionary.Import(f)
}

func readPayload(c *cli.Context) (string, error) {
	if arg := c.Args().First(); arg != "" {
		return arg, nil
	}
	var (
		b   []byte
		err error
	)
	if path := c.String("file"); path != "" {
		b, err = os.ReadFile(path)
	} else {
		b, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read payload: %w", err)
	}
	return string(b), nil
}

func decodeCommand(c *cli.Context) error {
	req, err := requestFromFlags(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	if req.Payload, err = readPayload(c); err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	res, err := viewer.Evaluate(context.Background(), req)
	if err != nil {
		return err
	}
	if !res.OK() {
		return cli.NewExitError(res.Text, 1)
	}
	fmt.Println(res.Text)
	if c.Bool("summary") {
		printSummary(res.Text)
	}
	return nil
}

func printSummary(xmlText string) {
	s, err := soap.Inspect(xmlText)
	if err != nil {
		log.Debugf("no envelope summary: %v", err)
		return
	}
	for _, f := range []struct{ name, value string }{
		{"operation", s.Operation},
		{"to", s.To},
		{"message-id", s.MessageID},
		{"relates-to", s.RelatesTo},
		{"body", s.Body},
	} {
		if f.value != "" {
			fmt.Fprintf(os.Stderr, "%-10s %s\n", f.name+":", f.value)
		}
	}
	if s.Fault != nil {
		fmt.Fprintln(os.Stderr, s.Fault.Error())
	}
}

func watchCommand(c *cli.Context) error {
	base, err := requestFromFlags(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	out := bufio.NewWriter(os.Stdout)
	coord := viewer.NewCoordinator(func(res viewer.Result) {
		if res.OK() {
			fmt.Fprintln(out, res.Text)
		} else {
			fmt.Fprintln(out, "error: "+res.Text)
		}
		out.Flush()
	})
	defer coord.Close()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	var last *viewer.Pending
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		req := base
		req.Payload = line
		last = coord.Submit(req)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	if last != nil {
		<-last.Done()
	}
	return nil
}

func dictExportCommand(c *cli.Context) error {
	var d dictionary.Dictionary = dictionary.WellKnown
	if path := c.String("dict"); path != "" {
		rows, err := loadRows(path)
		if err != nil {
			return cli.NewExitError(err.Error(), 2)
		}
		d = dictionary.FromRows(rows)
	}
	return dictionary.Export(os.Stdout, d)
}

func dictImportCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.NewExitError("missing dictionary file", 2)
	}
	rows, err := loadRows(path)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func serveCommand(c *cli.Context) error {
	return server.Run(server.Config{
		Addr:         c.String("addr"),
		AllowOrigins: c.StringSlice("origin"),
		Version:      CurrentVersion,
	})
}
