package core

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/wingdesk/internal/api"
	"github.com/ehrlich-b/wingdesk/internal/diff"
	"github.com/ehrlich-b/wingdesk/internal/session"
	"github.com/ehrlich-b/wingdesk/internal/workspace"
	"github.com/ehrlich-b/wingdesk/internal/ws"
)

// Level is a notice's severity.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notice is a user-visible message produced by an operation.
type Notice struct {
	Level Level
	Op    string
	Text  string
	Err   error
	// AuthLost is set when credentials were rejected and cleared.
	AuthLost bool
}

func (n Notice) String() string {
	if n.Op == "" {
		return n.Text
	}
	return n.Op + ": " + n.Text
}

// describe turns an operation error into the text shown to the user.
func describe(err error) (Level, string) {
	var ne *api.NetworkError
	var ce *ws.ChannelError
	switch {
	case errors.Is(err, workspace.ErrRefreshFailed):
		return LevelWarn, fmt.Sprintf("done, but the file list could not be refreshed (%v)", err)
	case errors.Is(err, diff.ErrProposalPending):
		return LevelWarn, "a change is waiting for review; apply or discard it first"
	case errors.Is(err, diff.ErrSaveInFlight):
		return LevelWarn, "a save is already in progress"
	case errors.Is(err, diff.ErrNoProposal):
		return LevelWarn, "nothing to review"
	case errors.Is(err, workspace.ErrUnsavedChanges):
		return LevelWarn, err.Error()
	case errors.Is(err, workspace.ErrNoDocument):
		return LevelWarn, "no file is open"
	case errors.Is(err, session.ErrNoSession):
		return LevelWarn, "no active session"
	case errors.As(err, &ce):
		return LevelWarn, fmt.Sprintf("%s channel is %s; run reconnect", ce.Kind, ce.State)
	case errors.As(err, &ne):
		return LevelError, ne.Error()
	default:
		return LevelError, err.Error()
	}
}
