// Package core wires the session, channels, workspace and transcripts into
// the single object the shell talks to. Every operation reports its failure
// as a Notice and returns the error; nothing panics or exits.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ehrlich-b/wingdesk/internal/api"
	"github.com/ehrlich-b/wingdesk/internal/chat"
	"github.com/ehrlich-b/wingdesk/internal/diff"
	"github.com/ehrlich-b/wingdesk/internal/logger"
	"github.com/ehrlich-b/wingdesk/internal/session"
	"github.com/ehrlich-b/wingdesk/internal/store"
	"github.com/ehrlich-b/wingdesk/internal/terminal"
	"github.com/ehrlich-b/wingdesk/internal/upload"
	"github.com/ehrlich-b/wingdesk/internal/workspace"
	"github.com/ehrlich-b/wingdesk/internal/ws"
)

// historyLines bounds the terminal lines reloaded on resume.
const historyLines = 500

// Backend is everything the core needs from the HTTP API.
type Backend interface {
	session.Backend
	workspace.Backend
	chat.Backend
	terminal.Backend
}

// History persists transcripts. *store.Store implements it.
type History interface {
	TouchSession(id, projectRoot string) error
	AppendChatMessage(sessionID, role, content string) error
	ListChatMessages(sessionID string) ([]*store.ChatMsg, error)
	AppendTerminalLine(sessionID, line string) error
	ListTerminalLines(sessionID string, limit int) ([]string, error)
}

// AuthHandler clears credentials on an auth failure and reports whether it did.
type AuthHandler interface {
	HandleError(err error) bool
}

type Options struct {
	Backend  Backend
	Channels *ws.Registry
	// History may be nil to keep transcripts in memory only.
	History History
	Auth    AuthHandler
	// Notify receives every notice. Defaults to the logger.
	Notify func(Notice)
}

type Core struct {
	Sessions *session.Manager
	Channels *ws.Registry
	Files    *workspace.Controller
	Chat     *chat.Controller
	Terminal *terminal.Transcript

	history History
	auth    AuthHandler
	notify  func(Notice)
}

func New(opts Options) *Core {
	c := &Core{
		Channels: opts.Channels,
		history:  opts.History,
		auth:     opts.Auth,
		notify:   opts.Notify,
	}
	if c.notify == nil {
		c.notify = logNotice
	}
	c.Sessions = session.NewManager(opts.Backend)
	c.Files = workspace.New(opts.Backend, c.Sessions)
	c.Chat = chat.New(opts.Backend, c.Sessions, c.Channels)
	c.Terminal = terminal.New(opts.Backend, c.Sessions, c.Channels)

	c.Sessions.OnEnd = c.sessionEnded
	c.Sessions.OnStart = c.sessionStarted
	c.Chat.Refresh = func(ctx context.Context) error {
		if err := c.Files.Refresh(ctx); err != nil {
			return fmt.Errorf("%w: %w", workspace.ErrRefreshFailed, err)
		}
		return nil
	}
	c.Chat.OnAppend = c.persistChat
	c.Terminal.OnAppend = c.persistTerminal
	c.Channels.OnChat = func(sessionID string, ev ws.ChatEvent) {
		c.Chat.Receive(sessionID, ev.Content)
	}
	c.Channels.OnTerminal = func(sessionID string, ev ws.TerminalEvent) {
		c.Terminal.Receive(sessionID, ev.Command, ev.Output)
	}
	c.Channels.OnState = c.channelState
	return c
}

func logNotice(n Notice) {
	switch n.Level {
	case LevelError:
		logger.Error(n.String())
	case LevelWarn:
		logger.Warn(n.String())
	default:
		logger.Info(n.String())
	}
}

func (c *Core) info(op, text string) {
	c.notify(Notice{Level: LevelInfo, Op: op, Text: text})
}

// report converts err into a notice and returns it. Stale responses are
// dropped silently. shown is true when the failure is already visible, as in a
// transcript entry, so only auth handling applies.
func (c *Core) report(op string, err error, shown bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, session.ErrStale) {
		logger.Debug("stale response discarded", "op", op)
		return err
	}
	if errors.Is(err, ws.ErrAuthRejected) {
		err = &api.AuthError{Status: 401, Message: err.Error()}
	}
	if c.auth != nil && c.auth.HandleError(err) {
		c.notify(Notice{Level: LevelError, Op: op, Text: "authentication required; log in again", Err: err, AuthLost: true})
		c.Sessions.End()
		return err
	}
	if shown && !errors.Is(err, workspace.ErrRefreshFailed) {
		return err
	}
	level, text := describe(err)
	c.notify(Notice{Level: level, Op: op, Text: text, Err: err})
	return err
}

func (c *Core) sessionEnded(prev session.Session) {
	c.Channels.CloseAll()
	c.Files.Reset()
	c.Chat.Reset()
	c.Terminal.Reset()
	logger.Debug("session state cleared", "session", prev.ID)
}

func (c *Core) sessionStarted(ctx context.Context, s session.Session, g session.Guard) {
	if c.history != nil {
		if err := c.history.TouchSession(s.ID, s.ProjectRoot); err != nil {
			logger.Warn("record session", "err", err)
		}
		c.loadHistory(s.ID)
	}
	if err := c.Channels.Open(ctx, s.ID); err != nil {
		c.report("open channels", err, false)
		if !g.Valid() {
			return
		}
	}
	if _, err := c.Files.List(ctx, ""); err != nil {
		c.report("list", err, false)
	}
}

func (c *Core) loadHistory(sessionID string) {
	msgs, err := c.history.ListChatMessages(sessionID)
	if err != nil {
		logger.Warn("load chat history", "err", err)
	}
	loaded := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		loaded = append(loaded, chat.Message{Role: chat.Role(m.Role), Content: m.Content})
	}
	c.Chat.Load(loaded)

	lines, err := c.history.ListTerminalLines(sessionID, historyLines)
	if err != nil {
		logger.Warn("load terminal history", "err", err)
	}
	c.Terminal.Load(lines)
}

func (c *Core) persistChat(sessionID string, m chat.Message) {
	if c.history == nil {
		return
	}
	if err := c.history.AppendChatMessage(sessionID, string(m.Role), m.Content); err != nil {
		logger.Warn("persist chat message", "err", err)
	}
}

func (c *Core) persistTerminal(sessionID, line string) {
	if c.history == nil {
		return
	}
	if err := c.history.AppendTerminalLine(sessionID, line); err != nil {
		logger.Warn("persist terminal line", "err", err)
	}
}

// channelState reports drops. Dial failures are reported by Open and Reopen.
func (c *Core) channelState(kind ws.Kind, s ws.State, err error) {
	if s != ws.StateClosed || err == nil || errors.Is(err, ws.ErrDialFailed) {
		logger.Debug("channel state", "kind", kind, "state", s)
		return
	}
	c.notify(Notice{Level: LevelWarn, Op: string(kind) + " channel", Text: "disconnected; run reconnect", Err: err})
}

// --- sessions ---

// NewSession creates a session and loads its root listing.
func (c *Core) NewSession(ctx context.Context, projectPath string) (session.Session, error) {
	s, err := c.Sessions.Create(ctx, projectPath)
	return s, c.report("new session", err, false)
}

// Resume rebinds an existing session, reloading its local history.
func (c *Core) Resume(ctx context.Context, id string) (session.Session, error) {
	s, err := c.Sessions.Resume(ctx, id)
	return s, c.report("resume", err, false)
}

// End closes the session and clears all state derived from it.
func (c *Core) End() {
	c.Sessions.End()
}

// Reconnect reopens any closed channel of the active session.
func (c *Core) Reconnect(ctx context.Context) error {
	if _, err := c.Sessions.Guard(); err != nil {
		return c.report("reconnect", err, false)
	}
	var errs []error
	for _, k := range ws.Kinds {
		if err := c.Channels.Reopen(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return c.report("reconnect", err, false)
	}
	c.info("reconnect", "channels open")
	return nil
}

// --- files ---

func (c *Core) List(ctx context.Context, dir string) ([]api.FileEntry, error) {
	entries, err := c.Files.List(ctx, dir)
	return entries, c.report("list", err, false)
}

func (c *Core) Read(ctx context.Context, path string, force bool) (workspace.Document, error) {
	d, err := c.Files.Read(ctx, path, forceOpt(force)...)
	return d, c.reportUnsaved("open "+path, err)
}

func (c *Core) Edit(content string) error {
	return c.report("edit", c.Files.Edit(content), false)
}

func (c *Core) Create(ctx context.Context, path, content string, force bool) (workspace.Document, error) {
	d, err := c.Files.Create(ctx, path, content, forceOpt(force)...)
	return d, c.reportUnsaved("create "+path, err)
}

func (c *Core) Delete(ctx context.Context, path string, force bool) error {
	return c.reportUnsaved("delete "+path, c.Files.Delete(ctx, path, forceOpt(force)...))
}

// Save sends the open document. A non-nil proposal means the change is
// waiting for Apply or Discard.
func (c *Core) Save(ctx context.Context) (*diff.Proposal, error) {
	p, err := c.Files.Save(ctx)
	if err != nil {
		return nil, c.report("save", err, false)
	}
	if p != nil {
		c.info("save", "change needs review; apply or discard it")
	} else {
		c.info("save", "saved")
	}
	return p, nil
}

func (c *Core) Apply(ctx context.Context) error {
	if err := c.Files.Apply(ctx); err != nil {
		return c.report("apply", err, false)
	}
	c.info("apply", "change applied")
	return nil
}

func (c *Core) Discard() bool {
	ok := c.Files.Discard()
	if ok {
		c.info("discard", "change discarded; local edits kept")
	} else {
		c.info("discard", "nothing to discard")
	}
	return ok
}

func (c *Core) Clone(ctx context.Context, repoURL string) (string, error) {
	local, err := c.Files.Clone(ctx, repoURL)
	if err != nil {
		return local, c.report("clone", err, false)
	}
	if c.history != nil {
		if s, ok := c.Sessions.Active(); ok {
			if err := c.history.TouchSession(s.ID, local); err != nil {
				logger.Warn("record project root", "err", err)
			}
		}
	}
	c.info("clone", "repository cloned to "+local)
	return local, nil
}

// Upload sends every file under dir.
func (c *Core) Upload(ctx context.Context, dir string) ([]string, error) {
	files, err := upload.Collect(dir)
	if err != nil {
		return nil, c.report("upload", err, false)
	}
	names, err := c.Files.Upload(ctx, files)
	if err != nil {
		return names, c.report("upload", err, false)
	}
	return names, nil
}

// Watch re-uploads dir whenever it changes, until ctx is done.
func (c *Core) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	w := &upload.Watcher{
		Root:     dir,
		Debounce: debounce,
		Upload: func(ctx context.Context, files []api.UploadFile) error {
			_, err := c.Files.Upload(ctx, files)
			return err
		},
		OnSync: func(n int, err error) {
			if err != nil {
				c.report("upload", err, false)
				return
			}
			c.notify(Notice{Level: LevelInfo, Op: "upload", Text: uploadedText(n)})
		},
	}
	return c.report("watch", w.Run(ctx), false)
}

// --- agent ---

// Ask sends a message to the agent over HTTP.
func (c *Core) Ask(ctx context.Context, text string) error {
	return c.report("chat", c.Chat.Send(ctx, text), true)
}

func (c *Core) Quick(ctx context.Context, action chat.QuickAction) error {
	err := c.Chat.Quick(ctx, action)
	return c.report("quick", err, !errors.Is(err, chat.ErrUnknownAction))
}

func (c *Core) Implement(ctx context.Context, requirements string) error {
	return c.report("implement", c.Chat.Implement(ctx, requirements), true)
}

// Say sends a message over the live chat channel.
func (c *Core) Say(ctx context.Context, text string) error {
	return c.report("say", c.Chat.SendLive(ctx, text), false)
}

// --- terminal ---

// Submit sends a command over the terminal channel.
func (c *Core) Submit(ctx context.Context, command string) error {
	return c.report("terminal", c.Terminal.Submit(ctx, command), false)
}

// Exec runs a command over HTTP.
func (c *Core) Exec(ctx context.Context, command string) (*api.ExecResult, error) {
	res, err := c.Terminal.Exec(ctx, command)
	return res, c.report("run", err, true)
}

func (c *Core) reportUnsaved(op string, err error) error {
	if errors.Is(err, workspace.ErrUnsavedChanges) {
		// the caller asks for confirmation and retries with force
		return err
	}
	return c.report(op, err, false)
}

func forceOpt(force bool) []workspace.Option {
	if force {
		return []workspace.Option{workspace.Force}
	}
	return nil
}

func uploadedText(n int) string {
	if n == 1 {
		return "uploaded 1 file"
	}
	return fmt.Sprintf("uploaded %d files", n)
}
