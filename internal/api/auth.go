package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

// Login exchanges credentials for a bearer token. It does not store the token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	return c.authenticate(ctx, "login", "/api/auth/login", loginRequest{Email: email, Password: password})
}

// Signup creates an account and returns its bearer token.
func (c *Client) Signup(ctx context.Context, name, email, password string) (*AuthResult, error) {
	return c.authenticate(ctx, "signup", "/api/auth/signup", signupRequest{Name: name, Email: email, Password: password})
}

func (c *Client) authenticate(ctx context.Context, op, path string, body any) (*AuthResult, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp authResponse
	if err := c.do(req, op, false, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, errMissing(op, "access_token")
	}
	return &AuthResult{Token: resp.AccessToken, User: resp.User}, nil
}

// Me returns the user the current token belongs to.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp struct {
		User *User `json:"user"`
	}
	if err := c.get(ctx, "me", "/api/auth/me", &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, errMissing("me", "user")
	}
	return resp.User, nil
}
