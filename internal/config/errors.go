package config

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by configuration operations.
var (
	// ErrInvalid indicates a setting outside its allowed range.
	ErrInvalid = errors.New("invalid configuration")

	// ErrUnknownFormat indicates a quota file extension that has no parser.
	ErrUnknownFormat = errors.New("unknown quota file format")
)

// QuotaError reports a quota file that could not be decoded, or a quota in
// it that the limiter rejects. Decode errors carry a position when the
// parser reports one; quota errors name the tier and the quota's index in
// it.
type QuotaError struct {
	File   string
	Format Format

	Line   int
	Column int

	// Tier is "global" or a bucket name.
	Tier  string
	Index int

	Err error
}

func (e *QuotaError) Error() string {
	var b strings.Builder
	b.WriteString("quota file ")
	b.WriteString(e.File)
	if e.Format != "" {
		fmt.Fprintf(&b, " (%s)", e.Format)
	}
	switch {
	case e.Tier != "":
		fmt.Fprintf(&b, ": %s quota %d", e.Tier, e.Index)
	case e.Line > 0 && e.Column > 0:
		fmt.Fprintf(&b, ": line %d, column %d", e.Line, e.Column)
	case e.Line > 0:
		fmt.Fprintf(&b, ": line %d", e.Line)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *QuotaError) Unwrap() error {
	return e.Err
}
