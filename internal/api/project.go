package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
)

// Execute runs a shell command in the session's project.
func (c *Client) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	var resp struct {
		Result *ExecResult `json:"result"`
	}
	if err := c.postJSON(ctx, "execute", "/api/terminal/execute", req, &resp); err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, errMissing("execute", "result")
	}
	return resp.Result, nil
}

// CloneRepo clones a git repository into the session and returns its local path.
func (c *Client) CloneRepo(ctx context.Context, sessionID, repoURL string) (string, error) {
	req := struct {
		RepoURL   string `json:"repo_url"`
		SessionID string `json:"session_id"`
	}{repoURL, sessionID}
	var resp struct {
		LocalPath string `json:"local_path"`
	}
	if err := c.postJSON(ctx, "clone", "/api/github/clone", req, &resp); err != nil {
		return "", err
	}
	if resp.LocalPath == "" {
		return "", errMissing("clone", "local_path")
	}
	return resp.LocalPath, nil
}

// UploadFolder uploads files as one multipart request and returns the names the
// backend stored.
func (c *Client) UploadFolder(ctx context.Context, sessionID string, files []UploadFile) ([]string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
	}
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload/folder", &buf)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Files []json.RawMessage `json:"files"`
	}
	if err := c.do(req, "upload", true, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Files))
	for _, raw := range resp.Files {
		names = append(names, uploadedName(raw))
	}
	return names, nil
}

// uploadedName accepts a bare file name or an object describing the file.
func uploadedName(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Path     string `json:"path"`
		Name     string `json:"name"`
		Filename string `json:"filename"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		for _, v := range []string{obj.Path, obj.Filename, obj.Name} {
			if v != "" {
				return v
			}
		}
	}
	return string(raw)
}
