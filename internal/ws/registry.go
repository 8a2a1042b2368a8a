package ws

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/wingdesk/internal/logger"
)

// Registry owns at most one channel per kind, all bound to the same session.
// Frames from a channel that is no longer registered are dropped.
type Registry struct {
	WSBase       string
	DialAttempts int
	DialBackoff  time.Duration

	// OnChat and OnTerminal receive decoded frames in arrival order, on the
	// channel's reader goroutine.
	OnChat     func(sessionID string, ev ChatEvent)
	OnTerminal func(sessionID string, ev TerminalEvent)
	// OnState reports every channel state change. err is non-nil when the
	// channel closed without being asked to.
	OnState func(kind Kind, s State, err error)

	mu        sync.Mutex
	token     string
	sessionID string
	channels  map[Kind]*Channel
}

func NewRegistry(wsBase string) *Registry {
	return &Registry{
		WSBase:       strings.TrimRight(wsBase, "/"),
		DialAttempts: 3,
		DialBackoff:  500 * time.Millisecond,
		channels:     make(map[Kind]*Channel),
	}
}

// SetToken sets the bearer token used for subsequent dials.
func (r *Registry) SetToken(token string) {
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
}

// SessionID returns the session the registry's channels belong to.
func (r *Registry) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Registry) channelURL(kind Kind, sessionID string) string {
	return r.WSBase + "/ws/" + string(kind) + "/" + url.PathEscape(sessionID)
}

// Open closes every existing channel, then opens one channel of each kind
// for sessionID. Failures are joined; a failed kind stays closed.
func (r *Registry) Open(ctx context.Context, sessionID string) error {
	r.CloseAll()

	r.mu.Lock()
	r.sessionID = sessionID
	chans := make([]*Channel, 0, len(Kinds))
	for _, k := range Kinds {
		ch := r.newChannelLocked(k, sessionID)
		r.channels[k] = ch
		chans = append(chans, ch)
	}
	r.mu.Unlock()

	var errs []error
	for _, ch := range chans {
		if err := ch.dial(ctx, r.DialAttempts, NewBackoff(r.DialBackoff, 8*r.DialBackoff)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reopen replaces a closed channel of kind for the current session. An open
// channel is left as is.
func (r *Registry) Reopen(ctx context.Context, kind Kind) error {
	r.mu.Lock()
	if r.sessionID == "" {
		r.mu.Unlock()
		return &ChannelError{Kind: kind, State: StateClosed, Err: ErrChannelNotOpen}
	}
	if cur := r.channels[kind]; cur != nil && cur.State() != StateClosed {
		r.mu.Unlock()
		return nil
	}
	ch := r.newChannelLocked(kind, r.sessionID)
	r.channels[kind] = ch
	r.mu.Unlock()

	return ch.dial(ctx, r.DialAttempts, NewBackoff(r.DialBackoff, 8*r.DialBackoff))
}

func (r *Registry) newChannelLocked(kind Kind, sessionID string) *Channel {
	ch := newChannel(kind, sessionID, r.channelURL(kind, sessionID), r.token)
	ch.onFrame = r.dispatch
	ch.onState = r.stateChanged
	return ch
}

// CloseAll closes every channel and forgets the session. Once it returns no
// further frames are delivered.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	chans := r.channels
	r.channels = make(map[Kind]*Channel)
	r.sessionID = ""
	r.mu.Unlock()

	for _, k := range Kinds {
		if ch := chans[k]; ch != nil {
			ch.Close()
		}
	}
}

// State returns the state of the channel of kind. A missing channel is closed.
func (r *Registry) State(kind Kind) State {
	r.mu.Lock()
	ch := r.channels[kind]
	r.mu.Unlock()
	if ch == nil {
		return StateClosed
	}
	return ch.State()
}

func (r *Registry) channel(kind Kind) (*Channel, error) {
	r.mu.Lock()
	ch := r.channels[kind]
	r.mu.Unlock()
	if ch == nil {
		return nil, &ChannelError{Kind: kind, State: StateClosed, Err: ErrChannelNotOpen}
	}
	return ch, nil
}

// SendChat sends a user message on the chat channel.
func (r *Registry) SendChat(ctx context.Context, message string) error {
	ch, err := r.channel(KindChat)
	if err != nil {
		return err
	}
	return ch.Send(ctx, ChatMessage{Type: TypeMessage, Message: message, SessionID: ch.SessionID})
}

// SendCommand sends a shell command on the terminal channel.
func (r *Registry) SendCommand(ctx context.Context, command string) error {
	ch, err := r.channel(KindTerminal)
	if err != nil {
		return err
	}
	return ch.Send(ctx, TerminalCommand{Type: TypeCommand, Command: command})
}

func (r *Registry) current(ch *Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[ch.Kind] == ch
}

func (r *Registry) dispatch(ch *Channel, data []byte) {
	if !r.current(ch) {
		logger.Debug("dropping frame from stale channel", "kind", ch.Kind, "session", ch.SessionID)
		return
	}
	switch ch.Kind {
	case KindChat:
		ev, ok, err := DecodeChat(data)
		if err != nil {
			logger.Warn("bad chat frame", "err", err)
			return
		}
		if ok && r.OnChat != nil {
			r.OnChat(ch.SessionID, ev)
		}
	case KindTerminal:
		ev, err := DecodeTerminal(data)
		if err != nil {
			logger.Warn("bad terminal frame", "err", err)
			return
		}
		if r.OnTerminal != nil {
			r.OnTerminal(ch.SessionID, ev)
		}
	}
}

func (r *Registry) stateChanged(ch *Channel, s State, err error) {
	if !r.current(ch) && s != StateClosed {
		return
	}
	if r.OnState != nil {
		r.OnState(ch.Kind, s, err)
	}
}
