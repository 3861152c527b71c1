// Package client is the high-level pubky client. It keeps one authenticated
// session per identity and offers repository reads and writes on top of it.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pubky/pubky-core-client/pkg/auth"
	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/paths"
	"github.com/pubky/pubky-core-client/pkg/resolver"
	"github.com/pubky/pubky-core-client/pkg/transport"
)

// Client is safe for concurrent use. Calls for the same identity are
// serialized.
type Client struct {
	res    *resolver.Resolver
	http   *transport.Client
	log    *zap.Logger
	policy auth.PublishPolicy

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	mu sync.Mutex
	a  *auth.Auth
}

type Option func(*Client)

func WithTransport(t *transport.Client) Option { return func(c *Client) { c.http = t } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithPublishPolicy controls whether Signup publishes the homeserver record.
func WithPublishPolicy(p auth.PublishPolicy) Option { return func(c *Client) { c.policy = p } }

// New returns a client resolving homeservers through res.
func New(res *resolver.Resolver, opts ...Option) *Client {
	c := &Client{
		res:      res,
		log:      zap.NewNop(),
		policy:   auth.PublishAlways,
		sessions: map[string]*entry{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = transport.New(transport.WithLogger(c.log))
	}
	return c
}

func (c *Client) newAuth(opts ...auth.Option) *auth.Auth {
	base := []auth.Option{
		auth.WithTransport(c.http),
		auth.WithLogger(c.log),
		auth.WithPublishPolicy(c.policy),
	}
	var res auth.HomeserverResolver
	if c.res != nil {
		res = c.res
	}
	return auth.New(res, append(base, opts...)...)
}

func (c *Client) store(id string, a *auth.Auth) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[id] = &entry{a: a}
}

// lookup returns the session entry of userID, locked. The caller must unlock.
func (c *Client) lookup(userID string) (*entry, error) {
	c.mu.Lock()
	e, ok := c.sessions[userID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotSignedUp, userID)
	}
	e.mu.Lock()
	return e, nil
}

// Signup registers the identity of seed with homeserver, or with the
// homeserver its record points at when homeserver is nil.
func (c *Client) Signup(ctx context.Context, seed [keys.SeedSize]byte, homeserver *url.URL) (string, error) {
	var opts []auth.Option
	if homeserver != nil {
		opts = append(opts, auth.WithHomeserver(homeserver))
	}
	a := c.newAuth(opts...)
	id, err := a.Signup(ctx, seed)
	if err != nil {
		return "", err
	}
	c.store(id, a)
	return id, nil
}

// Login opens a session for an already registered identity.
func (c *Client) Login(ctx context.Context, seed [keys.SeedSize]byte, homeserver *url.URL) (string, error) {
	var opts []auth.Option
	if homeserver != nil {
		opts = append(opts, auth.WithHomeserver(homeserver))
	}
	a := c.newAuth(opts...)
	id, err := a.Login(ctx, seed)
	if err != nil {
		return "", err
	}
	c.store(id, a)
	return id, nil
}

// Restore adopts a session obtained earlier, for example one read from disk.
func (c *Client) Restore(userID string, homeserver *url.URL, sessionID string) error {
	if _, err := keys.ParsePublicKey(userID); err != nil {
		return err
	}
	if homeserver == nil || sessionID == "" {
		return errs.ErrNoSession
	}
	c.store(userID, c.newAuth(auth.WithSession(homeserver, sessionID)))
	return nil
}

// SessionState returns the homeserver and current session id held for
// userID. The id may have been rotated by the homeserver since Signup.
func (c *Client) SessionState(userID string) (*url.URL, string, error) {
	e, err := c.lookup(userID)
	if err != nil {
		return nil, "", err
	}
	defer e.mu.Unlock()
	return e.a.Homeserver(), e.a.SessionID(), nil
}

// Users returns the identities with a session, sorted.
func (c *Client) Users() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Logout ends the session of userID, forgets it and returns the session id
// that was in use.
func (c *Client) Logout(ctx context.Context, userID string) (string, error) {
	e, err := c.lookup(userID)
	if err != nil {
		return "", err
	}
	defer e.mu.Unlock()
	old, err := e.a.Logout(ctx, userID)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	delete(c.sessions, userID)
	c.mu.Unlock()
	return old, nil
}

// Session returns the homeserver's description of the session of userID.
func (c *Client) Session(ctx context.Context, userID string) (*auth.SessionInfo, error) {
	e, err := c.lookup(userID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	body, err := e.a.Session(ctx)
	if err != nil {
		return nil, err
	}
	return auth.DecodeSessionInfo(body)
}

// Resolve returns the homeserver URL of pub.
func (c *Client) Resolve(ctx context.Context, pub keys.PublicKey, opts ...resolver.CallOption) (*url.URL, error) {
	if c.res == nil {
		return nil, errs.ErrNoHomeserver
	}
	return c.res.ResolveHomeserver(ctx, pub, opts...)
}

// Publish points kp's identity at homeserver.
func (c *Client) Publish(ctx context.Context, kp *keys.Keypair, homeserver *url.URL, opts ...resolver.CallOption) error {
	if c.res == nil {
		return fmt.Errorf("%w: no resolver configured", errs.ErrEntryNotPublished)
	}
	return c.res.Publish(ctx, kp, homeserver, opts...)
}

// --- Repos ---

// Create creates repo for userID.
func (c *Client) Create(ctx context.Context, userID, repo string) error {
	e, err := c.lookup(userID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	_, err = e.a.Request(ctx, http.MethodPut, paths.Repo(userID, repo, ""), nil, nil)
	return err
}

// Put stores payload at path in repo and returns the entry's public URL.
func (c *Client) Put(ctx context.Context, userID, repo, path string, payload []byte) (*url.URL, error) {
	e, err := c.lookup(userID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	p := paths.Repo(userID, repo, path)
	h := http.Header{"Content-Type": {"application/octet-stream"}}
	if payload == nil {
		payload = []byte{}
	}
	if _, err := e.a.Request(ctx, http.MethodPut, p, h, payload); err != nil {
		return nil, err
	}
	return e.a.Homeserver().JoinPath(p), nil
}

// Get reads path from repo of userID. Entries are public: without a session
// for userID the homeserver is resolved and read anonymously.
func (c *Client) Get(ctx context.Context, userID, repo, path string) ([]byte, error) {
	return c.read(ctx, userID, paths.Repo(userID, repo, path))
}

// List returns the entry paths stored in repo of userID.
func (c *Client) List(ctx context.Context, userID, repo string) ([]string, error) {
	body, err := c.read(ctx, userID, paths.Repo(userID, repo, ""))
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return out, nil
}

func (c *Client) read(ctx context.Context, userID, p string) ([]byte, error) {
	if e, err := c.lookup(userID); err == nil {
		defer e.mu.Unlock()
		return e.a.Request(ctx, http.MethodGet, p, nil, nil)
	}
	pub, err := keys.ParsePublicKey(userID)
	if err != nil {
		return nil, err
	}
	hs, err := c.Resolve(ctx, pub)
	if err != nil {
		return nil, errs.Wrap(errs.StageResolve, err)
	}
	return c.http.Do(ctx, http.MethodGet, hs.JoinPath(p), nil, nil, nil)
}

// Delete removes path from repo of userID.
func (c *Client) Delete(ctx context.Context, userID, repo, path string) error {
	e, err := c.lookup(userID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	_, err = e.a.Request(ctx, http.MethodDelete, paths.Repo(userID, repo, path), nil, nil)
	return err
}
