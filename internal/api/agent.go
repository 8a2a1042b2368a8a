package api

import (
	"context"
	"encoding/json"
)

// ChatWithProject sends a message to the agent in the context of a project.
func (c *Client) ChatWithProject(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var raw struct {
		Response           json.RawMessage `json:"response"`
		ExecutionPerformed bool            `json:"execution_performed"`
		FilesCreated       []string        `json:"files_created"`
		FilesUpdated       []string        `json:"files_updated"`
	}
	if err := c.postJSON(ctx, "chat", "/api/chat/with-project", req, &raw); err != nil {
		return nil, err
	}
	text, ok := responseText(raw.Response)
	if !ok {
		return nil, errMissing("chat", "response")
	}
	return &ChatResponse{
		Response:           text,
		ExecutionPerformed: raw.ExecutionPerformed,
		FilesCreated:       raw.FilesCreated,
		FilesUpdated:       raw.FilesUpdated,
	}, nil
}

// responseText accepts either a bare string or the nested {"response": "..."}
// shape the chat channel uses.
func responseText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var nested struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Response != nil {
		return *nested.Response, true
	}
	return "", false
}

// ImplementRequirements asks the agent to implement a requirements text.
func (c *Client) ImplementRequirements(ctx context.Context, req ImplementRequest) (*ImplementResponse, error) {
	var resp ImplementResponse
	if err := c.postJSON(ctx, "implement", "/api/agent/implement-requirements", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
