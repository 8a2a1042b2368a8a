// Package workspace keeps the client's view of a session's files: the
// directory listings the user has expanded, the single open document, and the
// save → review → apply flow.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/ehrlich-b/wingdesk/internal/api"
	"github.com/ehrlich-b/wingdesk/internal/diff"
	"github.com/ehrlich-b/wingdesk/internal/logger"
	"github.com/ehrlich-b/wingdesk/internal/session"
)

var (
	// ErrNoDocument is returned by operations that need an open document.
	ErrNoDocument = errors.New("no document open")
	// ErrUnsavedChanges is returned instead of discarding local edits. Retry
	// with Force to discard them.
	ErrUnsavedChanges = errors.New("open document has unsaved changes")
	// ErrRefreshFailed marks an operation that succeeded but whose follow-up
	// listing refresh did not.
	ErrRefreshFailed = errors.New("refresh failed")
)

// Backend is the file surface of the API client.
type Backend interface {
	ListFiles(ctx context.Context, sessionID, path string) ([]api.FileEntry, error)
	ReadFile(ctx context.Context, sessionID, path string) (string, error)
	CreateFile(ctx context.Context, sessionID, path, content string) error
	UpdateFile(ctx context.Context, sessionID, path, content string) (*api.UpdateResult, error)
	DeleteFile(ctx context.Context, sessionID, path string) error
	ApplyDiff(ctx context.Context, diffID string) error
	CloneRepo(ctx context.Context, sessionID, repoURL string) (string, error)
	UploadFolder(ctx context.Context, sessionID string, files []api.UploadFile) ([]string, error)
}

// Sessions supplies the guard every request is issued under.
type Sessions interface {
	Guard() (session.Guard, error)
	SetProjectRoot(g session.Guard, root string) error
}

// Document is the file open in the editor.
type Document struct {
	Path    string
	Content string
	Dirty   bool
}

// Option adjusts a single operation.
type Option func(*options)

type options struct {
	force bool
}

// Force lets an operation discard unsaved edits in the open document.
func Force(o *options) { o.force = true }

func collect(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Controller owns the workspace state for the active session. Responses that
// arrive after the session changed, or after a newer read superseded them, are
// dropped with session.ErrStale.
type Controller struct {
	backend  Backend
	sessions Sessions
	engine   *diff.Engine

	mu      sync.Mutex
	tree    map[string][]api.FileEntry
	doc     *Document
	readSeq uint64
	// sent is the buffer content behind the pending proposal
	sent sentBuffer
}

type sentBuffer struct {
	diffID  string
	content string
}

func New(backend Backend, sessions Sessions) *Controller {
	return &Controller{
		backend:  backend,
		sessions: sessions,
		engine:   diff.NewEngine(),
		tree:     make(map[string][]api.FileEntry),
	}
}

func (c *Controller) guard() (session.Guard, error) {
	return c.sessions.Guard()
}

// List replaces the listing for dir with the server's answer.
func (c *Controller) List(ctx context.Context, dir string) ([]api.FileEntry, error) {
	g, err := c.guard()
	if err != nil {
		return nil, err
	}
	entries, err := c.backend.ListFiles(ctx, g.SessionID(), dir)
	if err != nil {
		return nil, err
	}
	if !g.Valid() {
		return nil, session.ErrStale
	}
	c.mu.Lock()
	c.tree[dir] = append([]api.FileEntry(nil), entries...)
	c.mu.Unlock()
	return entries, nil
}

// Entries returns the last successful listing of dir.
func (c *Controller) Entries(dir string) ([]api.FileEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.tree[dir]
	if !ok {
		return nil, false
	}
	return append([]api.FileEntry(nil), entries...), true
}

// Dirs returns every listed directory, sorted.
func (c *Controller) Dirs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	dirs := make([]string, 0, len(c.tree))
	for d := range c.tree {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// Refresh re-lists the root and every directory listed so far. A directory
// missing from its parent's fresh listing, or whose own listing fails for a
// reason other than auth, is forgotten together with everything under it. Only
// root and auth failures are reported.
func (c *Controller) Refresh(ctx context.Context) error {
	dirs := c.Dirs()
	if len(dirs) == 0 || dirs[0] != "" {
		dirs = append([]string{""}, dirs...)
	}
	var errs []error
	// sorted, so a parent is refreshed before its children
	for _, d := range dirs {
		if d != "" && c.vanished(d) {
			c.forget(d)
			continue
		}
		if _, err := c.List(ctx, d); err != nil {
			if errors.Is(err, session.ErrStale) {
				return err
			}
			if d != "" && !api.IsAuth(err) {
				logger.Debug("forgetting unlistable directory", "dir", d, "err", err)
				c.forget(d)
				continue
			}
			errs = append(errs, fmt.Errorf("list %q: %w", d, err))
		}
	}
	return errors.Join(errs...)
}

// vanished reports whether dir is no longer listed, as a directory, in its
// parent's listing. A dir whose parent was never listed has not vanished.
func (c *Controller) vanished(dir string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tree[dir]; !ok {
		return true
	}
	entries, ok := c.tree[parentDir(dir)]
	if !ok {
		return false
	}
	for _, e := range entries {
		if e.Path == dir && e.IsDir() {
			return false
		}
	}
	return true
}

// forget drops the listings of dir and every directory under it.
func (c *Controller) forget(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.tree {
		if within(k, dir) {
			delete(c.tree, k)
		}
	}
}

// Document returns a copy of the open document.
func (c *Controller) Document() (Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil {
		return Document{}, false
	}
	return *c.doc, true
}

// Read opens p, replacing the open document. It refuses to drop unsaved edits
// unless called with Force. Only the most recent Read may install its result.
func (c *Controller) Read(ctx context.Context, p string, opts ...Option) (Document, error) {
	o := collect(opts)
	g, err := c.guard()
	if err != nil {
		return Document{}, err
	}

	c.mu.Lock()
	if c.doc != nil && c.doc.Dirty && !o.force {
		cur := c.doc.Path
		c.mu.Unlock()
		return Document{}, fmt.Errorf("%w: %s", ErrUnsavedChanges, cur)
	}
	c.readSeq++
	seq := c.readSeq
	c.mu.Unlock()

	content, err := c.backend.ReadFile(ctx, g.SessionID(), p)
	if err != nil {
		return Document{}, err
	}
	if !g.Valid() {
		return Document{}, session.ErrStale
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.readSeq {
		logger.Debug("dropping superseded read", "path", p)
		return Document{}, session.ErrStale
	}
	c.doc = &Document{Path: p, Content: content}
	return *c.doc, nil
}

// Edit replaces the open document's content locally and marks it dirty.
func (c *Controller) Edit(content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil {
		return ErrNoDocument
	}
	c.doc.Content = content
	c.doc.Dirty = true
	return nil
}

// Create makes p on the server, refreshes its directory and opens it.
func (c *Controller) Create(ctx context.Context, p, content string, opts ...Option) (Document, error) {
	o := collect(opts)
	if d, ok := c.Document(); ok && d.Dirty && !o.force {
		return Document{}, fmt.Errorf("%w: %s", ErrUnsavedChanges, d.Path)
	}
	g, err := c.guard()
	if err != nil {
		return Document{}, err
	}
	if err := c.backend.CreateFile(ctx, g.SessionID(), p, content); err != nil {
		return Document{}, err
	}
	if !g.Valid() {
		return Document{}, session.ErrStale
	}
	if _, err := c.List(ctx, parentDir(p)); err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	return c.Read(ctx, p, Force)
}

// Delete removes p. If the open document is p, or lies under it, the document
// is closed; unsaved edits there require Force.
func (c *Controller) Delete(ctx context.Context, p string, opts ...Option) error {
	o := collect(opts)
	if d, ok := c.Document(); ok && d.Dirty && within(d.Path, p) && !o.force {
		return fmt.Errorf("%w: %s", ErrUnsavedChanges, d.Path)
	}
	g, err := c.guard()
	if err != nil {
		return err
	}
	if err := c.backend.DeleteFile(ctx, g.SessionID(), p); err != nil {
		return err
	}
	if !g.Valid() {
		return session.ErrStale
	}

	c.mu.Lock()
	if c.doc != nil && within(c.doc.Path, p) {
		c.doc = nil
		c.readSeq++
	}
	for k := range c.tree {
		if k != "" && within(k, p) {
			delete(c.tree, k)
		}
	}
	c.mu.Unlock()
	if pending, ok := c.engine.Pending(); ok && within(pending.Path, p) {
		c.engine.Discard()
	}

	if _, err := c.List(ctx, parentDir(p)); err != nil {
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	return nil
}

// Save sends the open document. If the server wants a review the returned
// proposal is pending and the document stays dirty; otherwise the save is
// committed and the document is clean.
func (c *Controller) Save(ctx context.Context) (*diff.Proposal, error) {
	d, ok := c.Document()
	if !ok {
		return nil, ErrNoDocument
	}
	g, err := c.guard()
	if err != nil {
		return nil, err
	}
	tk, err := c.engine.Begin()
	if err != nil {
		return nil, err
	}

	res, err := c.backend.UpdateFile(ctx, g.SessionID(), d.Path, d.Content)
	if err != nil {
		c.engine.Finish(tk)
		return nil, err
	}
	if !g.Valid() {
		c.engine.Finish(tk)
		return nil, session.ErrStale
	}

	if res.NeedsReview() {
		p := diff.NewProposal(res.DiffID, res.Path, res.DiffContent)
		c.mu.Lock()
		c.sent = sentBuffer{diffID: p.ID, content: d.Content}
		c.mu.Unlock()
		if err := c.engine.Propose(tk, p); err != nil {
			if errors.Is(err, diff.ErrSaveAbandoned) {
				return nil, session.ErrStale
			}
			return nil, err
		}
		logger.Debug("save needs review", "path", p.Path, "diff", p.ID)
		return &p, nil
	}

	c.engine.Finish(tk)
	c.mu.Lock()
	// edits made while the save was in flight keep the document dirty
	if c.doc != nil && c.doc.Path == d.Path && c.doc.Content == d.Content {
		c.doc.Dirty = false
	}
	c.mu.Unlock()
	return nil, nil
}

// Pending returns the proposal awaiting review.
func (c *Controller) Pending() (diff.Proposal, bool) {
	return c.engine.Pending()
}

// ProposalState reports whether a proposal is pending.
func (c *Controller) ProposalState() diff.State {
	return c.engine.State()
}

// Apply commits the pending proposal, marks its document clean and refreshes
// every listing, since the server may have touched other files. On failure the
// proposal stays pending.
func (c *Controller) Apply(ctx context.Context) error {
	p, ok := c.engine.Pending()
	if !ok {
		return diff.ErrNoProposal
	}
	g, err := c.guard()
	if err != nil {
		return err
	}
	if err := c.engine.Apply(ctx, p.ID, c.backend.ApplyDiff); err != nil {
		return err
	}
	if !g.Valid() {
		return session.ErrStale
	}

	c.mu.Lock()
	// edits made after the save are not part of the proposal
	if c.doc != nil && c.doc.Path == p.Path &&
		c.sent.diffID == p.ID && c.doc.Content == c.sent.content {
		c.doc.Dirty = false
	}
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	return nil
}

// Discard drops the pending proposal without contacting the server. Local
// edits stay dirty.
func (c *Controller) Discard() bool {
	return c.engine.Discard()
}

// Clone imports a git repository into the session, records the new project
// root and lists it.
func (c *Controller) Clone(ctx context.Context, repoURL string) (string, error) {
	g, err := c.guard()
	if err != nil {
		return "", err
	}
	local, err := c.backend.CloneRepo(ctx, g.SessionID(), repoURL)
	if err != nil {
		return "", err
	}
	if err := c.sessions.SetProjectRoot(g, local); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.tree = make(map[string][]api.FileEntry)
	c.mu.Unlock()
	if _, err := c.List(ctx, ""); err != nil {
		return local, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	return local, nil
}

// Upload sends files to the session's project and refreshes the listings.
func (c *Controller) Upload(ctx context.Context, files []api.UploadFile) ([]string, error) {
	g, err := c.guard()
	if err != nil {
		return nil, err
	}
	names, err := c.backend.UploadFolder(ctx, g.SessionID(), files)
	if err != nil {
		return nil, err
	}
	if !g.Valid() {
		return nil, session.ErrStale
	}
	if err := c.Refresh(ctx); err != nil {
		return names, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	return names, nil
}

// Reset forgets all state. Called when the session ends.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.tree = make(map[string][]api.FileEntry)
	c.doc = nil
	c.readSeq++
	c.sent = sentBuffer{}
	c.mu.Unlock()
	c.engine.Reset()
}

func parentDir(p string) string {
	d := path.Dir(strings.TrimSuffix(p, "/"))
	if d == "." || d == "/" {
		return ""
	}
	return d
}

// within reports whether p is dir or lies below it.
func within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, strings.TrimSuffix(dir, "/")+"/")
}
