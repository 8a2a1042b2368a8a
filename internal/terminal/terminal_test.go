package terminal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/wingdesk/internal/api"
	"github.com/ehrlich-b/wingdesk/internal/session"
)

type fakeExec struct {
	res *api.ExecResult
	err error
	req api.ExecRequest
}

func (f *fakeExec) Execute(ctx context.Context, req api.ExecRequest) (*api.ExecResult, error) {
	f.req = req
	return f.res, f.err
}

type fakeSender struct {
	err  error
	sent []string
}

func (f *fakeSender) SendCommand(ctx context.Context, command string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, command)
	return nil
}

type fakeSessions struct{}

func (fakeSessions) CreateSession(ctx context.Context, projectPath string) (*api.SessionInfo, error) {
	return &api.SessionInfo{ID: "s1", ProjectPath: projectPath}, nil
}

func (fakeSessions) UserSessions(ctx context.Context) ([]api.SessionInfo, error) { return nil, nil }

func newManager(t *testing.T, project string) *session.Manager {
	t.Helper()
	m := session.NewManager(fakeSessions{})
	_, err := m.Create(context.Background(), project)
	require.NoError(t, err)
	return m
}

func TestScenarioTerminalFrame(t *testing.T) {
	tr := New(&fakeExec{}, newManager(t, ""), nil)
	tr.Receive("s1", "ls", "a.txt\nb.txt")
	assert.Equal(t, []string{"$ ls", "a.txt\nb.txt"}, tr.Lines())
}

func TestFramesAppendInArrivalOrder(t *testing.T) {
	tr := New(&fakeExec{}, newManager(t, ""), nil)
	tr.Receive("s1", "pwd", "/work")
	tr.Receive("s1", "echo hi", "hi")
	assert.Equal(t, []string{"$ pwd", "/work", "$ echo hi", "hi"}, tr.Lines())
}

func TestFrameForOtherSessionDropped(t *testing.T) {
	tr := New(&fakeExec{}, newManager(t, ""), nil)
	tr.Receive("old", "ls", "x")
	assert.Empty(t, tr.Lines())
}

func TestExec(t *testing.T) {
	ex := &fakeExec{res: &api.ExecResult{Stdout: "main.go", Stderr: "", ReturnCode: 0}}
	tr := New(ex, newManager(t, "/work/repo"), nil)

	res, err := tr.Exec(context.Background(), "ls")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ReturnCode)
	assert.Equal(t, []string{"$ ls", "main.go", "", "Exit code: 0"}, tr.Lines())
	assert.Equal(t, api.ExecRequest{Command: "ls", WorkingDir: "/work/repo", SessionID: "s1"}, ex.req)
}

func TestExecFailure(t *testing.T) {
	tr := New(&fakeExec{err: errors.New("refused")}, newManager(t, ""), nil)
	_, err := tr.Exec(context.Background(), "ls")
	require.Error(t, err)
	assert.Equal(t, []string{"$ ls", ExecFailure}, tr.Lines())
}

func TestSubmit(t *testing.T) {
	live := &fakeSender{}
	tr := New(&fakeExec{}, newManager(t, ""), live)
	require.NoError(t, tr.Submit(context.Background(), "make test"))
	assert.Equal(t, []string{"make test"}, live.sent)
	assert.Empty(t, tr.Lines(), "echo comes back with the output frame")

	live.err = errors.New("terminal channel (closed): channel not open")
	require.Error(t, tr.Submit(context.Background(), "ls"))
}

func TestSubmitWithoutSession(t *testing.T) {
	tr := New(&fakeExec{}, session.NewManager(fakeSessions{}), &fakeSender{})
	assert.ErrorIs(t, tr.Submit(context.Background(), "ls"), session.ErrNoSession)
}

func TestOnAppendAndReset(t *testing.T) {
	tr := New(&fakeExec{}, newManager(t, ""), nil)
	var seen []string
	tr.OnAppend = func(sessionID, line string) { seen = append(seen, line) }
	tr.Receive("s1", "ls", "x")
	assert.Equal(t, []string{"$ ls", "x"}, seen)

	tr.Reset()
	assert.Empty(t, tr.Lines())
	tr.Load([]string{"$ old"})
	assert.Equal(t, []string{"$ old"}, tr.Lines())
}
