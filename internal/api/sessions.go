package api

import "context"

type createSessionRequest struct {
	ProjectPath *string `json:"project_path"`
}

// CreateSession opens a new server-side session. An empty projectPath is sent
// as null, which the backend treats as a blank project.
func (c *Client) CreateSession(ctx context.Context, projectPath string) (*SessionInfo, error) {
	req := createSessionRequest{}
	if projectPath != "" {
		req.ProjectPath = &projectPath
	}
	var resp struct {
		SessionID      string `json:"session_id"`
		ProjectContext *struct {
			ProjectPath string `json:"project_path"`
		} `json:"project_context"`
		CreatedAt Timestamp `json:"created_at"`
	}
	if err := c.postJSON(ctx, "create session", "/api/sessions/create", req, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, errMissing("create session", "session_id")
	}
	info := &SessionInfo{ID: resp.SessionID, CreatedAt: resp.CreatedAt}
	if resp.ProjectContext != nil {
		info.ProjectPath = resp.ProjectContext.ProjectPath
	}
	return info, nil
}

// UserSessions lists the sessions owned by the current user.
func (c *Client) UserSessions(ctx context.Context) ([]SessionInfo, error) {
	var resp struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := c.get(ctx, "list sessions", "/api/sessions/user-sessions", &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}
