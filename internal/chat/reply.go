package chat

import (
	"errors"

	"github.com/xkilldash9x/tablecast/internal/pipeline"
	"github.com/xkilldash9x/tablecast/internal/table"
)

var (
	ErrRateLimited = errors.New("author is sending commands too quickly")
	ErrBusy        = errors.New("too many tables in progress")
)

// ReplyText turns a failure into the text shown to the author. Validation
// errors get a hint about the expected format, pipeline errors a line per
// kind so a timeout reads as worth retrying.
func ReplyText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, table.ErrEmpty):
		return "Please provide the table text after the command."
	case errors.Is(err, table.ErrTooLong):
		return "That table is too long. Please shorten it."
	case errors.Is(err, table.ErrNoTeam):
		return "The table needs at least one team line, for example \"A - Red Team\"."
	case errors.Is(err, table.ErrNoPlayers):
		return "The table needs at least one player line, for example \"P1 1500\"."
	case errors.Is(err, ErrRateLimited):
		return "You are sending tables too quickly. Please wait a moment."
	case errors.Is(err, ErrBusy):
		return "Too many tables are being generated right now. Please try again shortly."
	}

	switch pipeline.KindOf(err) {
	case pipeline.KindTimeout:
		return "Generating the table took too long. Please try again."
	case pipeline.KindInfrastructure:
		return "The table renderer is unavailable right now. Please try again later."
	case pipeline.KindNotFound:
		return "The table site did not show its editor, so no table could be generated."
	default:
		return "The table could not be generated."
	}
}
