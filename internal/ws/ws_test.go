package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestBackoff(t *testing.T) {
	bo := NewBackoff(time.Second, 60*time.Second)

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second, // capped
		60 * time.Second,
	}
	for i, want := range expected {
		if got := bo.Next(); got != want {
			t.Errorf("attempt %d: got %v, want %v", i, got, want)
		}
	}

	bo.Reset()
	if got := bo.Next(); got != time.Second {
		t.Errorf("after reset: got %v, want %v", got, time.Second)
	}
}

func TestBackoffOverflowCaps(t *testing.T) {
	bo := NewBackoff(time.Second, time.Minute)
	for i := 0; i < 80; i++ {
		if d := bo.Next(); d <= 0 || d > time.Minute {
			t.Fatalf("attempt %d: got %v", i, d)
		}
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from State
		ev   event
		want State
	}{
		{StateConnecting, evDialed, StateOpen},
		{StateConnecting, evDialFailed, StateClosed},
		{StateConnecting, evClose, StateClosed},
		{StateOpen, evDropped, StateClosed},
		{StateOpen, evClose, StateClosed},
		{StateOpen, evDialed, StateOpen},
		{StateClosed, evDialed, StateClosed},
		{StateClosed, evClose, StateClosed},
	}
	for _, tt := range tests {
		if got := transition(tt.from, tt.ev); got != tt.want {
			t.Errorf("transition(%s, %d) = %s, want %s", tt.from, tt.ev, got, tt.want)
		}
	}
}

// wsServer accepts channel connections and records what clients send.
type wsServer struct {
	*httptest.Server

	mu     sync.Mutex
	conns  map[string][]*websocket.Conn // by path
	auth   []string
	recv   chan []byte
	reject bool
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{conns: make(map[string][]*websocket.Conn), recv: make(chan []byte, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		reject := s.reject
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		s.mu.Unlock()
		if reject {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("accept error: %v", err)
			return
		}
		s.mu.Lock()
		s.conns[r.URL.Path] = append(s.conns[r.URL.Path], conn)
		s.mu.Unlock()
		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			s.recv <- data
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) conn(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		cs := s.conns[path]
		s.mu.Unlock()
		if len(cs) > 0 {
			return cs[len(cs)-1]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no connection on %s", path)
	return nil
}

func (s *wsServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns[path])
}

func (s *wsServer) push(t *testing.T, path, frame string) {
	t.Helper()
	if err := s.conn(t, path).Write(context.Background(), websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func newTestRegistry(s *wsServer) *Registry {
	r := NewRegistry(s.wsURL())
	r.SetToken("tok")
	r.DialAttempts = 2
	r.DialBackoff = 10 * time.Millisecond
	return r
}

func openRegistry(t *testing.T, r *Registry, sessionID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Open(ctx, sessionID); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(r.CloseAll)
}

func TestOpenDialsOneChannelPerKind(t *testing.T) {
	srv := newWSServer(t)
	r := newTestRegistry(srv)
	openRegistry(t, r, "abc")

	for _, k := range Kinds {
		if got := r.State(k); got != StateOpen {
			t.Errorf("%s state = %s, want open", k, got)
		}
	}
	srv.conn(t, "/ws/chat/abc")
	srv.conn(t, "/ws/terminal/abc")

	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, a := range srv.auth {
		if a != "Bearer tok" {
			t.Errorf("Authorization = %q", a)
		}
	}
}

func TestChatFramesDeliveredInOrder(t *testing.T) {
	srv := newWSServer(t)
	r := newTestRegistry(srv)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	r.OnChat = func(sessionID string, ev ChatEvent) {
		mu.Lock()
		defer mu.Unlock()
		if sessionID != "abc" {
			t.Errorf("sessionID = %q", sessionID)
		}
		got = append(got, ev.Content)
		if len(got) == 2 {
			close(done)
		}
	}
	openRegistry(t, r, "abc")

	srv.push(t, "/ws/chat/abc", `{"type":"response","response":{"response":"first"}}`)
	srv.push(t, "/ws/chat/abc", `{"type":"typing"}`)
	srv.push(t, "/ws/chat/abc", `{"type":"response","response":{"response":"second"}}`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chat frames")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("got %v", got)
	}
}

func TestTerminalFrameDelivered(t *testing.T) {
	srv := newWSServer(t)
	r := newTestRegistry(srv)
	events := make(chan TerminalEvent, 1)
	r.OnTerminal = func(sessionID string, ev TerminalEvent) { events <- ev }
	openRegistry(t, r, "abc")

	srv.push(t, "/ws/terminal/abc", `{"command":"ls","output":"a.txt\nb.txt"}`)

	select {
	case ev := <-events:
		if ev.Command != "ls" || ev.Output != "a.txt\nb.txt" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal frame")
	}
}

func TestSendFrameShapes(t *testing.T) {
	srv := newWSServer(t)
	r := newTestRegistry(srv)
	openRegistry(t, r, "abc")
	ctx := context.Background()

	if err := r.SendChat(ctx, "hello"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	var chat map[string]any
	if err := json.Unmarshal(<-srv.recv, &chat); err != nil {
		t.Fatal(err)
	}
	if chat["type"] != "message" || chat["message"] != "hello" || chat["session_id"] != "abc" {
		t.Errorf("chat frame = %v", chat)
	}

	if err := r.SendCommand(ctx, "ls -la"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	var cmd map[string]any
	if err := json.Unmarshal(<-srv.recv, &cmd); err != nil {
		t.Fatal(err)
	}
	if cmd["type"] != "command" || cmd["command"] != "ls -la" || len(cmd) != 2 {
		t.Errorf("command frame = %v", cmd)
	}
}

func TestSendWithoutChannelRejected(t *testing.T) {
	r := NewRegistry("ws://127.0.0.1:0")
	err := r.SendChat(context.Background(), "hi")
	if !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("err = %v, want ErrChannelNotOpen", err)
	}
	var ce *ChannelError
	if !errors.As(err, &ce) || ce.Kind != KindChat {
		t.Errorf("err = %#v", err)
	}
	if r.State(KindTerminal) != StateClosed {
		t.Errorf("missing channel should report closed")
	}
}

func TestDropClosesWithoutReconnect(t *testing.T) {
	srv := newWSServer(t)
	r := newTestRegistry(srv)

	dropped := make(chan error, 4)
	r.OnState = func(kind Kind, s State, err error) {
		if kind == KindChat && s == StateClosed && err != nil {
			dropped <- err
		}
	}
	openRegistry(t, r, "abc")

	srv.conn(t, "/ws/chat/abc").Close(websocket.StatusGoingAway, "bye")

	select {
	case err := <-dropped:
		var ce *ChannelError
		if !errors.As(err, &ce) || ce.Kind != KindChat {
			t.Errorf("drop err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for drop")
	}

	if r.State(KindChat) != StateClosed {
		t.Errorf("chat state = %s, want closed", r.State(KindChat))
	}
	if r.State(KindTerminal) != StateOpen {
		t.Errorf("terminal state = %s, want open", r.State(KindTerminal))
	}
	if err := r.SendChat(context.Background(), "hi"); !errors.Is(err, ErrChannelNotOpen) {
		t.Errorf("send after drop err = %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := srv.count("/ws/chat/abc"); n != 1 {
		t.Errorf("chat dialed %d times, want 1", n)
	}

	if err := r.Reopen(context.Background(), KindChat); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if r.State(KindChat) != StateOpen {
		t.Errorf("chat state after reopen = %s", r.State(KindChat))
	}
	if n := srv.count("/ws/chat/abc"); n != 2 {
		t.Errorf("chat dialed %d times, want 2", n)
	}
}

func TestDialUnauthorized(t *testing.T) {
	srv := newWSServer(t)
	srv.reject = true
	r := newTestRegistry(srv)
	r.DialAttempts = 5

	err := r.Open(context.Background(), "abc")
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("err = %v, want ErrAuthRejected", err)
	}
	srv.mu.Lock()
	n := len(srv.auth)
	srv.mu.Unlock()
	if n != len(Kinds) {
		t.Errorf("dial attempts = %d, want one per kind", n)
	}
	for _, k := range Kinds {
		if r.State(k) != StateClosed {
			t.Errorf("%s state = %s", k, r.State(k))
		}
	}
}

func TestOpenReplacesPreviousSession(t *testing.T) {
	srv := newWSServer(t)
	r := newTestRegistry(srv)

	var mu sync.Mutex
	var sessions []string
	r.OnChat = func(sessionID string, ev ChatEvent) {
		mu.Lock()
		sessions = append(sessions, sessionID)
		mu.Unlock()
	}
	openRegistry(t, r, "one")
	old, err := r.channel(KindChat)
	if err != nil {
		t.Fatal(err)
	}

	openRegistry(t, r, "two")
	if old.State() != StateClosed {
		t.Errorf("old channel state = %s", old.State())
	}
	if r.SessionID() != "two" {
		t.Errorf("SessionID = %q", r.SessionID())
	}

	// a late frame from the replaced channel is dropped
	r.dispatch(old, []byte(`{"type":"response","response":{"response":"late"}}`))
	mu.Lock()
	defer mu.Unlock()
	if len(sessions) != 0 {
		t.Errorf("stale frame delivered: %v", sessions)
	}
}

func TestCloseAll(t *testing.T) {
	srv := newWSServer(t)
	r := newTestRegistry(srv)
	openRegistry(t, r, "abc")

	r.CloseAll()
	r.CloseAll()
	for _, k := range Kinds {
		if r.State(k) != StateClosed {
			t.Errorf("%s state = %s", k, r.State(k))
		}
	}
	if r.SessionID() != "" {
		t.Errorf("SessionID = %q", r.SessionID())
	}
	if err := r.Reopen(context.Background(), KindChat); !errors.Is(err, ErrChannelNotOpen) {
		t.Errorf("Reopen without session err = %v", err)
	}
}
