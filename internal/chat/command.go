// Package chat is the chat front end: it recognises table commands in
// incoming messages, renders them off the transport's loop and replies
// with the image or a short explanation.
package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Message is one incoming chat message.
type Message struct {
	ID      string
	Author  string
	Channel string
	Content string
	// FromBot marks messages sent by automated accounts, including this one.
	FromBot bool
}

// ParseCommand reports whether content invokes command and returns the
// argument text. Both "maketable <text>" and "/maketable" followed by the
// text on the next lines are accepted; the match is case-insensitive and
// the command must stand alone as a word. The returned text is trimmed and
// may be empty.
func ParseCommand(content, command string) (string, bool) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", false
	}
	s := strings.TrimLeftFunc(content, unicode.IsSpace)
	s = strings.TrimPrefix(s, "/")

	if len(s) < len(command) || !strings.EqualFold(s[:len(command)], command) {
		return "", false
	}
	rest := s[len(command):]
	if rest != "" {
		if r, _ := utf8.DecodeRuneInString(rest); !unicode.IsSpace(r) {
			return "", false
		}
	}
	return strings.TrimSpace(rest), true
}
