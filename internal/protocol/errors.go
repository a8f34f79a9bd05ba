package protocol

import (
	"errors"
	"fmt"
)

// Decode failures are expected control flow: every class gets a sentinel so
// callers can branch with errors.Is and tests can assert the exact class.
var (
	ErrTooShort          = errors.New("packet too short")
	ErrBadFraming        = errors.New("invalid framing bytes")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrUnknownTerminalID = errors.New("terminal id width is neither 6 nor 8")
	ErrUnsupportedKind   = errors.New("unsupported message kind")
	ErrFieldParse        = errors.New("field parse failure")
	ErrEmptyPacket       = errors.New("empty packet")
	ErrMalformedPacket   = errors.New("malformed packet")
)

// DecodeError wraps a sentinel with the raw input and the kind the decoder was
// attempting, so a failed frame can be persisted with a usable diagnostic.
type DecodeError struct {
	Proto string
	Kind  string // message type being attempted, "" when unknown
	Field string // offending field for ErrFieldParse, "" otherwise
	Raw   string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %v: field %q", e.Proto, e.Err, e.Field)
	}
	if e.Kind != "" {
		return fmt.Sprintf("%s: %v (type %s)", e.Proto, e.Err, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Proto, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FieldError reports a parse failure on a named field.
func FieldError(proto, kind, field, raw string) *DecodeError {
	return &DecodeError{Proto: proto, Kind: kind, Field: field, Raw: raw, Err: ErrFieldParse}
}
