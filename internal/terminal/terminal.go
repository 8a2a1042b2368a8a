// Package terminal keeps the shell transcript of the active session.
package terminal

import (
	"context"
	"fmt"
	"sync"

	"github.com/ehrlich-b/wingdesk/internal/api"
	"github.com/ehrlich-b/wingdesk/internal/logger"
	"github.com/ehrlich-b/wingdesk/internal/session"
)

// Prompt prefixes an echoed command.
const Prompt = "$ "

// ExecFailure is appended when an HTTP execute request fails.
const ExecFailure = "Error executing command"

// Backend is the execute surface of the API client.
type Backend interface {
	Execute(ctx context.Context, req api.ExecRequest) (*api.ExecResult, error)
}

// Sessions supplies the request guard and the project root.
type Sessions interface {
	Guard() (session.Guard, error)
	Active() (session.Session, bool)
}

// Sender sends a command over the live terminal channel.
type Sender interface {
	SendCommand(ctx context.Context, command string) error
}

// Transcript is the append-only list of terminal lines.
type Transcript struct {
	backend  Backend
	sessions Sessions
	live     Sender

	// OnAppend observes each appended line, in order.
	OnAppend func(sessionID, line string)

	mu    sync.Mutex
	lines []string
}

func New(backend Backend, sessions Sessions, live Sender) *Transcript {
	return &Transcript{backend: backend, sessions: sessions, live: live}
}

// Lines returns a copy of the transcript.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

// Load replaces the transcript.
func (t *Transcript) Load(lines []string) {
	t.mu.Lock()
	t.lines = append([]string(nil), lines...)
	t.mu.Unlock()
}

// Reset clears the transcript.
func (t *Transcript) Reset() {
	t.Load(nil)
}

func (t *Transcript) append(g session.Guard, lines ...string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !g.Valid() {
		return false
	}
	for _, l := range lines {
		t.lines = append(t.lines, l)
		if t.OnAppend != nil {
			t.OnAppend(g.SessionID(), l)
		}
	}
	return true
}

// Receive appends a command result that arrived on the terminal channel of
// sessionID: the echoed command, then its output.
func (t *Transcript) Receive(sessionID, command, output string) {
	g, err := t.sessions.Guard()
	if err != nil || g.SessionID() != sessionID {
		logger.Debug("dropping terminal frame for inactive session", "session", sessionID)
		return
	}
	t.append(g, Prompt+command, output)
}

// Submit sends command over the terminal channel. Nothing is appended here;
// the echo and output arrive together through Receive.
func (t *Transcript) Submit(ctx context.Context, command string) error {
	if _, err := t.sessions.Guard(); err != nil {
		return err
	}
	return t.live.SendCommand(ctx, command)
}

// Exec runs command over HTTP. The command is echoed first, then stdout,
// stderr and the exit code. A failed request appends ExecFailure and returns
// the error.
func (t *Transcript) Exec(ctx context.Context, command string) (*api.ExecResult, error) {
	g, err := t.sessions.Guard()
	if err != nil {
		return nil, err
	}
	t.append(g, Prompt+command)

	s, _ := t.sessions.Active()
	res, err := t.backend.Execute(ctx, api.ExecRequest{
		Command:    command,
		WorkingDir: s.ProjectRoot,
		SessionID:  g.SessionID(),
	})
	if err != nil {
		logger.Warn("execute failed", "command", command, "err", err)
		if !t.append(g, ExecFailure) {
			return nil, session.ErrStale
		}
		return nil, err
	}
	if !t.append(g, res.Stdout, res.Stderr, fmt.Sprintf("Exit code: %d", res.ReturnCode)) {
		return nil, session.ErrStale
	}
	return res, nil
}
