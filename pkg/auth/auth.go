// Package auth implements challenge-response authentication against a
// homeserver for a single identity.
//
// A Signup or Login fetches a fresh challenge, signs its derived signable with
// the identity key and submits the raw signature. The homeserver answers with a
// session cookie, which is kept in the Auth's transport.Session and rotated on
// every later exchange. The keypair derived from the seed is zeroized on every
// exit path.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/pubky/pubky-core-client/pkg/challenge"
	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/paths"
	"github.com/pubky/pubky-core-client/pkg/resolver"
	"github.com/pubky/pubky-core-client/pkg/transport"
)

// HomeserverResolver finds and publishes homeserver URLs. *resolver.Resolver
// satisfies it.
type HomeserverResolver interface {
	ResolveHomeserver(ctx context.Context, pub keys.PublicKey, opts ...resolver.CallOption) (*url.URL, error)
	Publish(ctx context.Context, kp *keys.Keypair, homeserver *url.URL, opts ...resolver.CallOption) error
}

var _ HomeserverResolver = (*resolver.Resolver)(nil)

// SigType selects where a root signature is submitted.
type SigType int

const (
	SigSignup SigType = iota
	SigLogin
)

func (t SigType) String() string {
	if t == SigSignup {
		return "signup"
	}
	return "login"
}

// PublishPolicy controls whether Signup republishes the identity's homeserver.
type PublishPolicy int

const (
	// PublishAlways republishes on every signup. Publishing is idempotent.
	PublishAlways PublishPolicy = iota
	// PublishIfResolved publishes only when the homeserver was not supplied
	// by the caller up front.
	PublishIfResolved
	// PublishNever leaves the record store untouched.
	PublishNever
)

// Auth holds the authentication state of one identity. It is not safe for
// concurrent use.
type Auth struct {
	res    HomeserverResolver
	http   *transport.Client
	sess   transport.Session
	log    *zap.Logger
	now    func() time.Time
	policy PublishPolicy

	userID   string
	supplied bool

	keypairFromSeed func([keys.SeedSize]byte) *keys.Keypair
}

type Option func(*Auth)

// WithHomeserver skips resolution and talks to u directly.
func WithHomeserver(u *url.URL) Option {
	return func(a *Auth) {
		a.sess.Homeserver = u
		a.supplied = u != nil
	}
}

// WithSession restores a previously obtained session.
func WithSession(homeserver *url.URL, sessionID string) Option {
	return func(a *Auth) {
		a.sess.Homeserver = homeserver
		a.sess.ID = sessionID
		a.supplied = homeserver != nil
	}
}

func WithTransport(c *transport.Client) Option { return func(a *Auth) { a.http = c } }

func WithLogger(l *zap.Logger) Option { return func(a *Auth) { a.log = l } }

func WithPublishPolicy(p PublishPolicy) Option { return func(a *Auth) { a.policy = p } }

// WithClock sets the time source used to reject expired challenges.
func WithClock(now func() time.Time) Option { return func(a *Auth) { a.now = now } }

// New returns an unauthenticated Auth. res may be nil when the homeserver is
// supplied and the publish policy is PublishNever.
func New(res HomeserverResolver, opts ...Option) *Auth {
	a := &Auth{
		res:             res,
		log:             zap.NewNop(),
		now:             time.Now,
		policy:          PublishAlways,
		keypairFromSeed: keys.FromSeed,
	}
	for _, o := range opts {
		o(a)
	}
	if a.http == nil {
		a.http = transport.New(transport.WithLogger(a.log))
	}
	return a
}

// Homeserver returns the homeserver URL, or nil while unknown.
func (a *Auth) Homeserver() *url.URL { return a.sess.Homeserver }

// SessionID returns the current session id, or "" when unauthenticated.
func (a *Auth) SessionID() string { return a.sess.ID }

// UserID returns the id of the last successful signup or login.
func (a *Auth) UserID() string { return a.userID }

// Signup registers the identity derived from seed with its homeserver and
// republishes the identity's homeserver record according to the publish policy.
func (a *Auth) Signup(ctx context.Context, seed [keys.SeedSize]byte, opts ...resolver.CallOption) (string, error) {
	kp := a.keypairFromSeed(seed)
	defer kp.Zeroize()
	return a.signup(ctx, kp, opts)
}

func (a *Auth) signup(ctx context.Context, kp *keys.Keypair, opts []resolver.CallOption) (string, error) {
	supplied := a.supplied
	id, err := a.sendUserRootSignature(ctx, SigSignup, kp, opts)
	if err != nil {
		return "", err
	}
	hs, err := a.homeserver(ctx, kp.Public(), opts)
	if err != nil {
		return "", err
	}

	if a.policy == PublishAlways || (a.policy == PublishIfResolved && !supplied) {
		if a.res == nil {
			return "", errs.Wrap(errs.StagePublish, errors.New("no resolver configured"))
		}
		if err := a.res.Publish(ctx, kp, hs, opts...); err != nil {
			return "", errs.Wrap(errs.StagePublish, err)
		}
	}

	a.log.Info("signed up", zap.String("user_id", id), zap.String("homeserver", hs.String()))
	return id, nil
}

// Login opens a session for the identity derived from seed. Nothing is published.
func (a *Auth) Login(ctx context.Context, seed [keys.SeedSize]byte, opts ...resolver.CallOption) (string, error) {
	kp := a.keypairFromSeed(seed)
	defer kp.Zeroize()

	id, err := a.sendUserRootSignature(ctx, SigLogin, kp, opts)
	if err != nil {
		return "", err
	}
	a.log.Info("logged in", zap.String("user_id", id))
	return id, nil
}

// sendUserRootSignature signs a fresh challenge and submits the signature.
// The session id is taken from the response cookie.
func (a *Auth) sendUserRootSignature(ctx context.Context, t SigType, kp *keys.Keypair, opts []resolver.CallOption) (string, error) {
	hs, err := a.homeserver(ctx, kp.Public(), opts)
	if err != nil {
		return "", err
	}
	ch, err := a.getChallenge(ctx, kp.Public(), opts)
	if err != nil {
		return "", err
	}
	sig, err := ch.Sign(kp)
	if err != nil {
		return "", errs.Wrap(errs.StageSignature, err)
	}

	id := kp.UserID()
	path := paths.Session(id)
	if t == SigSignup {
		path = paths.Signup(id)
	}
	h := http.Header{"Content-Type": {"application/octet-stream"}}
	if _, err := a.http.Do(ctx, http.MethodPut, hs.JoinPath(path), &a.sess, h, sig); err != nil {
		return "", errs.Wrap(errs.StageSignature, fmt.Errorf("%s: %w", t, err))
	}
	a.userID = id
	return id, nil
}

// getChallenge fetches a challenge and rejects it when already expired.
func (a *Auth) getChallenge(ctx context.Context, pub keys.PublicKey, opts []resolver.CallOption) (challenge.Challenge, error) {
	hs, err := a.homeserver(ctx, pub, opts)
	if err != nil {
		return challenge.Challenge{}, err
	}
	body, err := a.http.Do(ctx, http.MethodGet, hs.JoinPath(paths.Challenge()), nil, nil, nil)
	if err != nil {
		return challenge.Challenge{}, errs.Wrap(errs.StageChallenge, err)
	}
	ch, err := challenge.Deserialize(body)
	if err != nil {
		return challenge.Challenge{}, errs.Wrap(errs.StageChallenge, err)
	}
	if ch.ExpiredAt(a.now()) {
		return challenge.Challenge{}, errs.Wrap(errs.StageChallenge, challenge.ErrExpired)
	}
	return ch, nil
}

// homeserver returns the known homeserver URL, resolving it for pub on first use.
func (a *Auth) homeserver(ctx context.Context, pub keys.PublicKey, opts []resolver.CallOption) (*url.URL, error) {
	if a.sess.Homeserver != nil {
		return a.sess.Homeserver, nil
	}
	if a.res == nil {
		return nil, errs.Wrap(errs.StageResolve, errs.ErrNoHomeserver)
	}
	u, err := a.res.ResolveHomeserver(ctx, pub, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.StageResolve, err)
	}
	a.sess.Homeserver = u
	return u, nil
}

// Logout ends the session of userID and returns the session id it held.
func (a *Auth) Logout(ctx context.Context, userID string) (string, error) {
	if a.sess.Homeserver == nil {
		return "", errs.ErrNoHomeserver
	}
	if !a.sess.Active() {
		return "", errs.ErrNoSession
	}
	old := a.sess.ID
	u := a.sess.Homeserver.JoinPath(paths.Session(userID))
	if _, err := a.http.Do(ctx, http.MethodDelete, u, &a.sess, nil, nil); err != nil {
		return "", errs.Wrap(errs.StageSession, err)
	}
	a.sess.ID = ""
	a.log.Info("logged out", zap.String("user_id", userID))
	return old, nil
}

// Session returns the raw session description from the homeserver. See
// DecodeSessionInfo.
func (a *Auth) Session(ctx context.Context) (string, error) {
	if a.sess.Homeserver == nil {
		return "", errs.ErrNoHomeserver
	}
	if !a.sess.Active() {
		return "", errs.ErrNoSession
	}
	body, err := a.http.Do(ctx, http.MethodGet, a.sess.Homeserver.JoinPath(paths.Session("")), &a.sess, nil, nil)
	if err != nil {
		return "", errs.Wrap(errs.StageSession, err)
	}
	return string(body), nil
}

// Request sends an authenticated request to path on the homeserver.
func (a *Auth) Request(ctx context.Context, method, path string, headers http.Header, body []byte) ([]byte, error) {
	if a.sess.Homeserver == nil {
		return nil, errs.ErrNoHomeserver
	}
	return a.http.Do(ctx, method, a.sess.Homeserver.JoinPath(path), &a.sess, headers, body)
}
