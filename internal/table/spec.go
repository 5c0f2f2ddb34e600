// Package table validates the raw table text a caller submits before any
// browser is launched for it.
package table

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength bounds the text injected into the page.
const DefaultMaxLength = 2000

var (
	ErrEmpty     = errors.New("table text is empty")
	ErrTooLong   = errors.New("table text exceeds the maximum length")
	ErrNoTeam    = errors.New("table text has no team line")
	ErrNoPlayers = errors.New("table text has no player lines")
)

// Spec is table text that passed validation. The pipeline treats it as opaque
// and writes it to the page verbatim.
type Spec struct {
	text string
}

// Text returns the validated text.
func (s Spec) Text() string { return s.text }

// Len reports the length in characters.
func (s Spec) Len() int { return utf8.RuneCountInString(s.text) }

func (s Spec) String() string { return s.text }

// Parse trims raw and checks it against the length bound and the site's
// table grammar: at least one team line ("A - Red Team") and at least one
// player line ("P1 1500"). A maxLen <= 0 selects DefaultMaxLength.
func Parse(raw string, maxLen int) (Spec, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return Spec{}, ErrEmpty
	}
	if n := utf8.RuneCountInString(text); n > maxLen {
		return Spec{}, fmt.Errorf("%w: %d > %d characters", ErrTooLong, n, maxLen)
	}

	var teams, players int
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.Contains(line, "-"):
			teams++
		default:
			players++
		}
	}
	if teams == 0 {
		return Spec{}, ErrNoTeam
	}
	if players == 0 {
		return Spec{}, ErrNoPlayers
	}
	return Spec{text: text}, nil
}

// MustParse is Parse for literals known to be valid; it panics otherwise.
func MustParse(raw string) Spec {
	s, err := Parse(raw, 0)
	if err != nil {
		panic(err)
	}
	return s
}

// IsValidationError reports whether err came from Parse.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmpty) || errors.Is(err, ErrTooLong) ||
		errors.Is(err, ErrNoTeam) || errors.Is(err, ErrNoPlayers)
}
