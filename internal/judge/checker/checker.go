// Package checker implements the built-in token-based answer checkers:
// default (byte-exact), floating-point aware, and case-insensitive.
package checker

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Result is what a checker returns: whether the output is accepted and a
// human-readable comment, stored verbatim as the test-case's checker
// comment on both outcomes.
type Result struct {
	Accepted bool
	Comment  string
}

// Func is the tagged-union-of-function-values shape for Checker (a closed
// 3-variant enum modeled as function values, per the judge engine's
// polymorphism notes).
type Func func(answer, output io.Reader) (Result, error)

// Default requires tokens to match byte-for-byte.
func Default(answer, output io.Reader) (Result, error) {
	return compare(answer, output, func(a, b string) (bool, string) {
		if a == b {
			return true, ""
		}
		return false, fmt.Sprintf("expected %q, found %q", a, b)
	})
}

// FloatingPointAware accepts byte-equal tokens outright; otherwise parses
// both as float64 and accepts within a relative-or-absolute 1e-6 tolerance.
func FloatingPointAware(answer, output io.Reader) (Result, error) {
	return compare(answer, output, func(a, b string) (bool, string) {
		if a == b {
			return true, ""
		}
		af, aerr := strconv.ParseFloat(a, 64)
		bf, berr := strconv.ParseFloat(b, 64)
		if aerr != nil || berr != nil {
			return false, fmt.Sprintf("expected %q, found %q", a, b)
		}
		aNaN, bNaN := math.IsNaN(af), math.IsNaN(bf)
		if aNaN && bNaN {
			return true, ""
		}
		if aNaN != bNaN {
			return false, fmt.Sprintf("expected %q, found %q", a, b)
		}
		diff := math.Abs(af - bf)
		rel := diff
		if af != 0 {
			rel = math.Abs(diff / af)
		}
		if math.Min(diff, rel) <= 1e-6 {
			return true, ""
		}
		return false, fmt.Sprintf("expected %q, found %q", a, b)
	})
}

// CaseInsensitive compares tokens with ASCII case folded.
func CaseInsensitive(answer, output io.Reader) (Result, error) {
	return compare(answer, output, func(a, b string) (bool, string) {
		if strings.EqualFold(a, b) {
			return true, ""
		}
		return false, fmt.Sprintf("expected %q, found %q", a, b)
	})
}

// compare runs the shared token-reading loop: read whitespace-separated
// tokens from both streams in lock-step, comparing with eq; if one stream
// hits EOF before the other, reject with an expect/found-EOF comment.
func compare(answer, output io.Reader, eq func(a, b string) (bool, string)) (Result, error) {
	at := newTokenizer(answer)
	ot := newTokenizer(output)

	n := 0
	for {
		aTok, aOK, err := at.next()
		if err != nil {
			return Result{}, err
		}
		oTok, oOK, err := ot.next()
		if err != nil {
			return Result{}, err
		}

		if !aOK && !oOK {
			return Result{Accepted: true, Comment: fmt.Sprintf("OK: %d tokens.", n)}, nil
		}
		if aOK && !oOK {
			return Result{Accepted: false, Comment: fmt.Sprintf("expected %q, found EOF", aTok)}, nil
		}
		if !aOK && oOK {
			return Result{Accepted: false, Comment: fmt.Sprintf("expected EOF, found %q", oTok)}, nil
		}

		ok, comment := eq(aTok, oTok)
		if !ok {
			return Result{Accepted: false, Comment: comment}, nil
		}
		n++
	}
}

// tokenizer buffers 4 KiB blocks and splits on ' ', '\r', '\n', '\t'.
// Invalid UTF-8 inside a token surfaces as an I/O error.
type tokenizer struct {
	r *bufio.Reader
}

func newTokenizer(r io.Reader) *tokenizer {
	return &tokenizer{r: bufio.NewReaderSize(r, 4096)}
}

func isSeparator(b byte) bool {
	return b == ' ' || b == '\r' || b == '\n' || b == '\t'
}

func (t *tokenizer) next() (string, bool, error) {
	// skip separators
	for {
		b, err := t.r.ReadByte()
		if err == io.EOF {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if !isSeparator(b) {
			t.r.UnreadByte()
			break
		}
	}

	var sb strings.Builder
	for {
		b, err := t.r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", false, err
		}
		if isSeparator(b) {
			t.r.UnreadByte()
			break
		}
		sb.WriteByte(b)
	}
	tok := sb.String()
	if !utf8.ValidString(tok) {
		return "", false, fmt.Errorf("checker: invalid UTF-8 in token")
	}
	return tok, true, nil
}
