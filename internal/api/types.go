package api

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// FlexID accepts numeric or string identifiers from the backend.
type FlexID string

func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = FlexID(n.String())
	return nil
}

// Timestamp parses the handful of time layouts the backend emits, including
// ISO timestamps without a zone.
type Timestamp struct{ time.Time }

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		t.Time = time.Unix(int64(secs), 0).UTC()
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// User is the authenticated account.
type User struct {
	ID    FlexID `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

// AuthResult is returned by login and signup.
type AuthResult struct {
	Token string
	User  User
}

// SessionInfo describes a server-side session.
type SessionInfo struct {
	ID          string    `json:"session_id"`
	ProjectPath string    `json:"project_path"`
	CreatedAt   Timestamp `json:"created_at"`
}

// EntryType distinguishes files from directories in a listing.
type EntryType string

const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "directory"
)

// FileEntry is one item of a directory listing.
type FileEntry struct {
	Path string    `json:"path"`
	Name string    `json:"name"`
	Type EntryType `json:"type"`
}

func (e FileEntry) IsDir() bool { return e.Type == EntryDirectory }

// FileAction is the action field of /api/files/operation.
type FileAction string

const (
	ActionList   FileAction = "list"
	ActionRead   FileAction = "read"
	ActionUpdate FileAction = "update"
	ActionCreate FileAction = "create"
	ActionDelete FileAction = "delete"
)

// FileOpRequest is the body of /api/files/operation.
type FileOpRequest struct {
	Action    FileAction `json:"action"`
	Path      string     `json:"path"`
	Content   *string    `json:"content,omitempty"`
	SessionID string     `json:"session_id"`
}

// UpdateResult is the outcome of an update. A non-empty DiffID means the
// backend wants the change reviewed before it is committed.
type UpdateResult struct {
	DiffID      string `json:"diff_id"`
	DiffContent string `json:"diff_content"`
	Path        string `json:"path"`
}

func (r UpdateResult) NeedsReview() bool { return r.DiffID != "" }

// ChatRequest is the body of /api/chat/with-project.
type ChatRequest struct {
	Message     string `json:"message"`
	SessionID   string `json:"session_id"`
	ProjectPath string `json:"project_path"`
	AutoExecute bool   `json:"auto_execute"`
}

// ChatResponse is the agent's reply.
type ChatResponse struct {
	Response           string   `json:"response"`
	ExecutionPerformed bool     `json:"execution_performed"`
	FilesCreated       []string `json:"files_created"`
	FilesUpdated       []string `json:"files_updated"`
}

// ChangedFiles reports whether the agent touched the file system.
func (r ChatResponse) ChangedFiles() bool {
	return r.ExecutionPerformed || len(r.FilesCreated) > 0 || len(r.FilesUpdated) > 0
}

// ImplementRequest is the body of /api/agent/implement-requirements.
type ImplementRequest struct {
	Requirements string `json:"requirements"`
	SessionID    string `json:"session_id"`
	ProjectPath  string `json:"project_path"`
	AutoExecute  bool   `json:"auto_execute"`
}

type ImplementResponse struct {
	FilesCreated []string `json:"files_created"`
	FilesUpdated []string `json:"files_updated"`
}

// ExecRequest is the body of /api/terminal/execute.
type ExecRequest struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir,omitempty"`
	SessionID  string `json:"session_id"`
}

type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`
}

// UploadFile is one file of a folder upload. Name is the slash-separated path
// relative to the uploaded folder.
type UploadFile struct {
	Name    string
	Content []byte
}
