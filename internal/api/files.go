package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

func (c *Client) fileOp(ctx context.Context, req FileOpRequest, out any) error {
	op := string(req.Action) + " " + req.Path
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.postJSON(ctx, op, "/api/files/operation", req, &resp); err != nil {
		return err
	}
	// A missing result decodes as the zero payload; callers check required fields.
	if out == nil || len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

// ListFiles lists one directory of the session's project. "" is the root.
func (c *Client) ListFiles(ctx context.Context, sessionID, path string) ([]FileEntry, error) {
	var result struct {
		Items []FileEntry `json:"items"`
	}
	if err := c.fileOp(ctx, FileOpRequest{Action: ActionList, Path: path, SessionID: sessionID}, &result); err != nil {
		return nil, err
	}
	if result.Items == nil {
		return []FileEntry{}, nil
	}
	return result.Items, nil
}

// ReadFile returns the content of a file.
func (c *Client) ReadFile(ctx context.Context, sessionID, path string) (string, error) {
	var result struct {
		Content *string `json:"content"`
	}
	if err := c.fileOp(ctx, FileOpRequest{Action: ActionRead, Path: path, SessionID: sessionID}, &result); err != nil {
		return "", err
	}
	if result.Content == nil {
		return "", errMissing("read "+path, "content")
	}
	return *result.Content, nil
}

// CreateFile creates path with the given content.
func (c *Client) CreateFile(ctx context.Context, sessionID, path, content string) error {
	return c.fileOp(ctx, FileOpRequest{Action: ActionCreate, Path: path, Content: &content, SessionID: sessionID}, nil)
}

// UpdateFile sends new content for path. The result says whether the change was
// committed or is waiting for review.
func (c *Client) UpdateFile(ctx context.Context, sessionID, path, content string) (*UpdateResult, error) {
	var result UpdateResult
	if err := c.fileOp(ctx, FileOpRequest{Action: ActionUpdate, Path: path, Content: &content, SessionID: sessionID}, &result); err != nil {
		return nil, err
	}
	if result.Path == "" {
		result.Path = path
	}
	return &result, nil
}

// DeleteFile removes path.
func (c *Client) DeleteFile(ctx context.Context, sessionID, path string) error {
	return c.fileOp(ctx, FileOpRequest{Action: ActionDelete, Path: path, SessionID: sessionID}, nil)
}

// ApplyDiff commits a reviewed change.
func (c *Client) ApplyDiff(ctx context.Context, diffID string) error {
	return c.postJSON(ctx, "apply diff", "/api/files/apply-diff/"+url.PathEscape(diffID), nil, nil)
}
