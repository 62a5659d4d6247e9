// Package viewer runs decode requests from base64 text to XML and keeps the
// single visible result up to date as requests supersede each other.
package viewer

import (
	"errors"
	"fmt"

	"github.com/Macmod/go-nbfx/compression"
	"github.com/Macmod/go-nbfx/dictionary"
	"github.com/Macmod/go-nbfx/nbfx"
)

var (
	// ErrInvalidBase64 is returned when the payload is not standard base64.
	ErrInvalidBase64 = errors.New("invalid base64 input")
	// ErrCancelled is returned when a request was superseded mid-pipeline.
	// It never reaches a visible Result.
	ErrCancelled = errors.New("decode request cancelled")
)

// Request is one decode attempt. It is built fresh from the current input
// and settings and is not reused.
type Request struct {
	Payload              string           `json:"payload"`
	Compression          compression.Mode `json:"compression"`
	PrettyPrint          bool             `json:"prettyPrint"`
	UseBuiltInDictionary bool             `json:"useBuiltInDictionary"`
	Rows                 []dictionary.Row `json:"rows,omitempty"`
	Framing              nbfx.Framing     `json:"framing"`
}

// NewRequest returns a Request with the default settings: Auto compression,
// no pretty printing, and an empty custom dictionary.
func NewRequest(payload string) Request {
	return Request{Payload: payload, Compression: compression.Auto}
}

// Dictionary returns the dictionary the request decodes with.
func (r Request) Dictionary() dictionary.Dictionary {
	if r.UseBuiltInDictionary {
		return dictionary.WellKnown
	}
	return dictionary.FromRows(r.Rows)
}

// Kind tags what a Result holds.
type Kind uint8

const (
	KindXML Kind = iota
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindXML:
		return "xml"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Result is the outcome of a request that ran to completion.
type Result struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

func (r Result) OK() bool { return r.Kind == KindXML }

func xmlResult(text string) Result {
	return Result{Kind: KindXML, Text: text}
}

func errorResult(err error) Result {
	return Result{Kind: KindError, Text: err.Error()}
}
