// Package chat keeps the agent conversation of the active session.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ehrlich-b/wingdesk/internal/api"
	"github.com/ehrlich-b/wingdesk/internal/logger"
	"github.com/ehrlich-b/wingdesk/internal/session"
)

// Role says who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. Entries are never changed once appended.
type Message struct {
	Role    Role
	Content string
}

// FailureNotice replaces the raw error in the transcript when a request fails.
const FailureNotice = "Error: Failed to process message"

var ErrUnknownAction = errors.New("unknown quick action")

// QuickAction is a canned instruction sent as if the user typed it.
type QuickAction string

const (
	QuickComponent   QuickAction = "component"
	QuickCSS         QuickAction = "css"
	QuickAPI         QuickAction = "api"
	QuickPerformance QuickAction = "performance"
	QuickAnalyze     QuickAction = "analyze"
	QuickBugs        QuickAction = "bugs"
)

var quickInstructions = map[QuickAction]string{
	QuickComponent:   "Create a new React component with TypeScript and CSS",
	QuickCSS:         "Fix any CSS issues and improve responsiveness",
	QuickAPI:         "Add API integration with error handling",
	QuickPerformance: "Optimize React component performance",
	QuickAnalyze:     "Analyze the current project structure and suggest improvements",
	QuickBugs:        "Check for any bugs or issues in the code",
}

// Instruction returns the text sent for a.
func (a QuickAction) Instruction() (string, bool) {
	s, ok := quickInstructions[a]
	return s, ok
}

// QuickActions lists every action, sorted.
func QuickActions() []QuickAction {
	out := make([]QuickAction, 0, len(quickInstructions))
	for a := range quickInstructions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Backend is the agent surface of the API client.
type Backend interface {
	ChatWithProject(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error)
	ImplementRequirements(ctx context.Context, req api.ImplementRequest) (*api.ImplementResponse, error)
}

// Sessions supplies the request guard and the project root.
type Sessions interface {
	Guard() (session.Guard, error)
	Active() (session.Session, bool)
}

// Sender sends a message over the live chat channel.
type Sender interface {
	SendChat(ctx context.Context, message string) error
}

// Controller appends to the transcript. A user message is appended before its
// request is sent; exactly one assistant message follows when it returns.
type Controller struct {
	backend  Backend
	sessions Sessions
	live     Sender

	// Refresh runs after the agent reports it changed files.
	Refresh func(ctx context.Context) error
	// OnAppend observes each appended message, in order.
	OnAppend func(sessionID string, m Message)

	mu       sync.Mutex
	messages []Message
}

func New(backend Backend, sessions Sessions, live Sender) *Controller {
	return &Controller{backend: backend, sessions: sessions, live: live}
}

// Messages returns a copy of the transcript.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Load replaces the transcript, e.g. with history of a resumed session.
func (c *Controller) Load(msgs []Message) {
	c.mu.Lock()
	c.messages = append([]Message(nil), msgs...)
	c.mu.Unlock()
}

// Reset clears the transcript.
func (c *Controller) Reset() {
	c.Load(nil)
}

func (c *Controller) appendLocked(sessionID string, m Message) {
	c.messages = append(c.messages, m)
	if c.OnAppend != nil {
		c.OnAppend(sessionID, m)
	}
}

// append adds m if g still belongs to the active session.
func (c *Controller) append(g session.Guard, m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !g.Valid() {
		return false
	}
	c.appendLocked(g.SessionID(), m)
	return true
}

func (c *Controller) projectRoot() string {
	s, _ := c.sessions.Active()
	return s.ProjectRoot
}

// Send asks the agent about text over HTTP. A failed request appends
// FailureNotice and returns the error.
func (c *Controller) Send(ctx context.Context, text string) error {
	g, err := c.sessions.Guard()
	if err != nil {
		return err
	}
	c.append(g, Message{Role: RoleUser, Content: text})

	resp, err := c.backend.ChatWithProject(ctx, api.ChatRequest{
		Message:     text,
		SessionID:   g.SessionID(),
		ProjectPath: c.projectRoot(),
		AutoExecute: true,
	})
	if err != nil {
		logger.Warn("chat request failed", "err", err)
		if !c.append(g, Message{Role: RoleAssistant, Content: FailureNotice}) {
			return session.ErrStale
		}
		return err
	}
	if !c.append(g, Message{Role: RoleAssistant, Content: resp.Response}) {
		return session.ErrStale
	}
	if resp.ChangedFiles() {
		return c.refresh(ctx)
	}
	return nil
}

// Quick sends a canned instruction.
func (c *Controller) Quick(ctx context.Context, action QuickAction) error {
	text, ok := action.Instruction()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return c.Send(ctx, text)
}

// Implement asks the agent to implement a requirements text and reports how
// many files it created and updated.
func (c *Controller) Implement(ctx context.Context, requirements string) error {
	g, err := c.sessions.Guard()
	if err != nil {
		return err
	}
	c.append(g, Message{Role: RoleUser, Content: requirements})

	resp, err := c.backend.ImplementRequirements(ctx, api.ImplementRequest{
		Requirements: requirements,
		SessionID:    g.SessionID(),
		ProjectPath:  c.projectRoot(),
		AutoExecute:  true,
	})
	if err != nil {
		logger.Warn("implement request failed", "err", err)
		if !c.append(g, Message{Role: RoleAssistant, Content: FailureNotice}) {
			return session.ErrStale
		}
		return err
	}
	summary := fmt.Sprintf("Requirements implemented successfully! Files created: %d, Files updated: %d",
		len(resp.FilesCreated), len(resp.FilesUpdated))
	if !c.append(g, Message{Role: RoleAssistant, Content: summary}) {
		return session.ErrStale
	}
	return c.refresh(ctx)
}

// SendLive sends text over the chat channel. The user message is appended only
// if the channel accepted it; the reply arrives through Receive.
func (c *Controller) SendLive(ctx context.Context, text string) error {
	g, err := c.sessions.Guard()
	if err != nil {
		return err
	}
	// Holding the lock across the send keeps a fast reply behind the user
	// message.
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.live.SendChat(ctx, text); err != nil {
		return err
	}
	if g.Valid() {
		c.appendLocked(g.SessionID(), Message{Role: RoleUser, Content: text})
	}
	return nil
}

// Receive appends an assistant reply that arrived on the chat channel of
// sessionID. Replies for any other session are dropped.
func (c *Controller) Receive(sessionID, content string) {
	g, err := c.sessions.Guard()
	if err != nil || g.SessionID() != sessionID {
		logger.Debug("dropping chat frame for inactive session", "session", sessionID)
		return
	}
	c.append(g, Message{Role: RoleAssistant, Content: content})
}

func (c *Controller) refresh(ctx context.Context) error {
	if c.Refresh == nil {
		return nil
	}
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh after agent changes: %w", err)
	}
	return nil
}
