// Package soap summarizes decoded SOAP 1.2 envelopes: WS-Addressing headers
// and faults.
package soap

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// ErrNotEnvelope is returned for XML whose root is not a SOAP Envelope.
var ErrNotEnvelope = errors.New("not a SOAP envelope")

// actionPrefixes are shortened in Summary.Operation.
var actionPrefixes = []string{
	"http://schemas.xmlsoap.org/ws/2004/09/",
	"http://schemas.microsoft.com/2008/1/ActiveDirectory/CustomActions/",
	"http://schemas.xmlsoap.org/ws/2004/08/",
	"http://www.w3.org/2005/08/",
	"http://schemas.microsoft.com/ws/2005/05/",
}

type envelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Header  header   `xml:"Header"`
	Body    body     `xml:"Body"`
}

type header struct {
	Action    string `xml:"Action"`
	To        string `xml:"To"`
	MessageID string `xml:"MessageID"`
	RelatesTo string `xml:"RelatesTo"`
}

type body struct {
	Fault   *fault `xml:"Fault"`
	Content []struct {
		XMLName xml.Name
	} `xml:",any"`
}

type fault struct {
	Code   faultCode    `xml:"Code"`
	Reason faultReason  `xml:"Reason"`
	Detail *faultDetail `xml:"Detail"`

	// SOAP 1.1
	FaultCode   string       `xml:"faultcode"`
	FaultString string       `xml:"faultstring"`
	Detail11    *faultDetail `xml:"detail"`
}

type faultCode struct {
	Value   string        `xml:"Value"`
	Subcode *faultSubcode `xml:"Subcode"`
}

type faultSubcode struct {
	Value string `xml:"Value"`
}

type faultReason struct {
	Text string `xml:"Text"`
}

type faultDetail struct {
	Inner string `xml:",innerxml"`
}

// Fault is a SOAP fault. For SOAP 1.2, Code is the most specific code
// present: Code/Value is always the generic Sender or Receiver, the
// meaningful identifier lives in Code/Subcode/Value. SOAP 1.1 faults carry
// faultcode, faultstring and detail.
type Fault struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (f *Fault) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("SOAP Fault [%s]: %s - %s", f.Code, f.Reason, f.Detail)
	}
	return fmt.Sprintf("SOAP Fault [%s]: %s", f.Code, f.Reason)
}

// Summary describes one envelope.
type Summary struct {
	Action    string `json:"action,omitempty"`
	Operation string `json:"operation,omitempty"`
	To        string `json:"to,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	RelatesTo string `json:"relatesTo,omitempty"`
	Body      string `json:"body,omitempty"` // local name of the first body element
	Fault     *Fault `json:"fault,omitempty"`
}

// Inspect parses xmlText as a SOAP envelope. Element matching ignores
// namespaces, so both SOAP 1.1 and 1.2 envelopes are read.
func Inspect(xmlText string) (*Summary, error) {
	var env envelope
	if err := xml.Unmarshal([]byte(xmlText), &env); err != nil {
		var unexpected xml.UnmarshalError
		if errors.As(err, &unexpected) {
			return nil, fmt.Errorf("%w: %w", ErrNotEnvelope, err)
		}
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	s := &Summary{
		Action:    strings.TrimSpace(env.Header.Action),
		To:        strings.TrimSpace(env.Header.To),
		MessageID: strings.TrimSpace(env.Header.MessageID),
		RelatesTo: strings.TrimSpace(env.Header.RelatesTo),
	}
	s.Operation = operation(s.Action)
	if len(env.Body.Content) > 0 {
		s.Body = env.Body.Content[0].XMLName.Local
	}
	if env.Body.Fault != nil {
		s.Fault = convertFault(env.Body.Fault)
		s.Body = "Fault"
	}
	return s, nil
}

func convertFault(f *fault) *Fault {
	code := strings.TrimSpace(f.Code.Value)
	if f.Code.Subcode != nil {
		if sub := strings.TrimSpace(f.Code.Subcode.Value); sub != "" {
			code = sub
		}
	}
	if code == "" {
		code = strings.TrimSpace(f.FaultCode)
	}
	out := &Fault{Code: code, Reason: strings.TrimSpace(f.Reason.Text)}
	if out.Reason == "" {
		out.Reason = strings.TrimSpace(f.FaultString)
	}
	switch {
	case f.Detail != nil:
		out.Detail = strings.TrimSpace(f.Detail.Inner)
	case f.Detail11 != nil:
		out.Detail = strings.TrimSpace(f.Detail11.Inner)
	}
	return out
}

// operation shortens well-known action URIs, e.g.
// http://schemas.xmlsoap.org/ws/2004/09/enumeration/Pull becomes
// enumeration/Pull.
func operation(action string) string {
	for _, p := range actionPrefixes {
		if rest, ok := strings.CutPrefix(action, p); ok && rest != "" {
			return rest
		}
	}
	return action
}
