package shell

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ParseErrorKind classifies defects in hex input.
type ParseErrorKind int

const (
	// ParseErrOddLength means a segment had an odd number of hex digits.
	ParseErrOddLength ParseErrorKind = iota + 1

	// ParseErrInvalidDigit means a segment contained a non-hex character.
	ParseErrInvalidDigit
)

// ParseError describes why a hex segment could not become a frame. The
// shell reports it and returns to the prompt.
type ParseError struct {
	Kind    ParseErrorKind
	Segment string // segment that failed, with whitespace already removed
	Char    byte   // offending character, set for ParseErrInvalidDigit
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case ParseErrOddLength:
		return fmt.Sprintf("odd number of hex digits in %q", e.Segment)
	case ParseErrInvalidDigit:
		return fmt.Sprintf("invalid hex character %q in %q", e.Char, e.Segment)
	}
	return fmt.Sprintf("invalid hex input %q", e.Segment)
}

// IsParseError checks if an error is a hex input defect.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// ParseBatch splits the input on ';' and decodes each segment into a
// frame. Whitespace inside segments is ignored, so "60; 30 FF;" parses
// the same as "60;30FF". Empty segments are skipped rather than becoming
// empty frames; an input with no segments yields an empty batch and no
// error.
func ParseBatch(input string) (CommandBatch, error) {
	segments := strings.Split(input, ";")
	batch := make(CommandBatch, 0, len(segments))
	for _, segment := range segments {
		cleaned := stripWhitespace(segment)
		if cleaned == "" {
			continue
		}
		frame, err := parseFrame(cleaned)
		if err != nil {
			return nil, err
		}
		batch = append(batch, frame)
	}
	return batch, nil
}

func parseFrame(cleaned string) (Frame, error) {
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		var invalid hex.InvalidByteError
		if errors.As(err, &invalid) {
			return nil, &ParseError{
				Kind:    ParseErrInvalidDigit,
				Segment: cleaned,
				Char:    byte(invalid),
			}
		}
		if errors.Is(err, hex.ErrLength) {
			return nil, &ParseError{
				Kind:    ParseErrOddLength,
				Segment: cleaned,
			}
		}
		return nil, err
	}
	return Frame(data), nil
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
