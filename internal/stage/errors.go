package stage

import (
	"errors"

	"github.com/Robertoarce/wakatto-sub001/internal/bubbles"
	"github.com/Robertoarce/wakatto-sub001/internal/protocol"
	"github.com/Robertoarce/wakatto-sub001/internal/session"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrEnded), errors.Is(err, ErrClosed):
		return "session_ended"
	case errors.Is(err, session.ErrNotFound):
		return "session_not_found"
	case errors.Is(err, protocol.ErrUnsupportedType), errors.Is(err, bubbles.ErrUnknownCommand):
		return "unsupported_command"
	default:
		return "invalid_command"
	}
}
