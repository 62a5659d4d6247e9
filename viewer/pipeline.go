package viewer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/Macmod/go-nbfx/compression"
	"github.com/Macmod/go-nbfx/nbfx"
	"github.com/Macmod/go-nbfx/xmlfmt"
)

// Decode runs the pipeline for req: base64, decompression, binary XML
// decoding, then optional formatting. ctx is checked after every stage and
// a cancelled request returns ErrCancelled instead of its output.
func Decode(ctx context.Context, req Request) (string, error) {
	if err := checkpoint(ctx); err != nil {
		return "", err
	}

	raw, err := decodeBase64(req.Payload)
	if err != nil {
		return "", err
	}
	if err := checkpoint(ctx); err != nil {
		return "", err
	}

	data, err := compression.Decompress(raw, req.Compression)
	if err != nil {
		return "", err
	}
	if err := checkpoint(ctx); err != nil {
		return "", err
	}

	text, err := nbfx.DecodeFramed(data, req.Dictionary(), req.Framing)
	if err != nil {
		return "", err
	}
	if err := checkpoint(ctx); err != nil {
		return "", err
	}

	if !req.PrettyPrint {
		return text, nil
	}
	if text, err = xmlfmt.Format(text); err != nil {
		return "", err
	}
	if err := checkpoint(ctx); err != nil {
		return "", err
	}
	return text, nil
}

// Evaluate runs Decode and tags its outcome. The error is non-nil only for
// ErrCancelled.
func Evaluate(ctx context.Context, req Request) (Result, error) {
	text, err := Decode(ctx, req)
	switch {
	case errors.Is(err, ErrCancelled):
		return Result{}, err
	case err != nil:
		return errorResult(err), nil
	}
	return xmlResult(text), nil
}

func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
	return nil
}

// decodeBase64 accepts standard base64 with padding. ASCII whitespace
// anywhere in s is ignored.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBase64, err)
	}
	return b, nil
}
