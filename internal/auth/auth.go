package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ehrlich-b/wingdesk/internal/api"
	"github.com/ehrlich-b/wingdesk/internal/logger"
)

// ErrNotLoggedIn is returned when no usable token is stored.
var ErrNotLoggedIn = &api.AuthError{Message: "not logged in, run: wd login"}

// Backend is the subset of the API client the authenticator needs.
type Backend interface {
	Login(ctx context.Context, email, password string) (*api.AuthResult, error)
	Signup(ctx context.Context, name, email, password string) (*api.AuthResult, error)
	Me(ctx context.Context) (*api.User, error)
	SetToken(token string)
}

// Authenticator owns the bearer token: it obtains it, persists it, hands it to
// the API client, and forgets it whenever the server rejects it.
type Authenticator struct {
	backend Backend
	store   *TokenStore
	now     func() time.Time
}

func NewAuthenticator(backend Backend, store *TokenStore) *Authenticator {
	return &Authenticator{backend: backend, store: store, now: time.Now}
}

func (a *Authenticator) Login(ctx context.Context, email, password string) (*api.User, error) {
	res, err := a.backend.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return a.adopt(res)
}

func (a *Authenticator) Signup(ctx context.Context, name, email, password string) (*api.User, error) {
	res, err := a.backend.Signup(ctx, name, email, password)
	if err != nil {
		return nil, err
	}
	return a.adopt(res)
}

func (a *Authenticator) adopt(res *api.AuthResult) (*api.User, error) {
	if err := a.store.Save(&Credentials{Token: res.Token, User: res.User}); err != nil {
		return nil, err
	}
	a.backend.SetToken(res.Token)
	user := res.User
	return &user, nil
}

// Restore loads the stored token into the API client without a round trip.
func (a *Authenticator) Restore() (*Credentials, error) {
	creds, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, ErrNotLoggedIn
	}
	if creds.Expired(a.now()) {
		logger.Info("stored token expired", "saved_at", creds.SavedAt)
		a.Forget()
		return nil, &api.AuthError{Message: "session token expired, run: wd login"}
	}
	a.backend.SetToken(creds.Token)
	return creds, nil
}

// Verify restores the token and confirms it with the server.
func (a *Authenticator) Verify(ctx context.Context) (*api.User, error) {
	if _, err := a.Restore(); err != nil {
		return nil, err
	}
	user, err := a.backend.Me(ctx)
	if err != nil {
		if api.IsAuth(err) {
			a.Forget()
		}
		return nil, err
	}
	return user, nil
}

// Forget clears the token from disk and from the API client.
func (a *Authenticator) Forget() {
	a.backend.SetToken("")
	if err := a.store.Delete(); err != nil {
		logger.Warn("forget token", "err", err)
	}
}

// Logout is Forget with an error for callers that want one.
func (a *Authenticator) Logout() error {
	a.backend.SetToken("")
	if err := a.store.Delete(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// HandleError clears credentials when err is an auth failure. It returns
// true when the caller should route the user back to login.
func (a *Authenticator) HandleError(err error) bool {
	if err == nil || !api.IsAuth(err) {
		return false
	}
	if errors.Is(err, ErrNotLoggedIn) {
		return true
	}
	a.Forget()
	return true
}
