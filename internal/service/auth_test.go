package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pubky/pubky-core-client/internal/limiter"
	"github.com/pubky/pubky-core-client/internal/model"
	"github.com/pubky/pubky-core-client/internal/repository"
	"github.com/pubky/pubky-core-client/internal/repository/memory"
	"github.com/pubky/pubky-core-client/pkg/challenge"
	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
)

type fakeUsers struct {
	byID map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byID == nil {
		f.byID = map[string]*model.User{}
	}
	if _, exists := f.byID[u.ID]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byID[u.ID] = &cpy
	return nil
}

func (f *fakeUsers) Get(_ context.Context, id string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

const testIP = "1.2.3.4"

func newAuth(users repository.UserRepository, lim limiter.Limiter) *AuthServiceImpl {
	return NewAuthService(users, memory.NewSessionRepo(), lim, []byte("secret"), time.Hour, time.Minute)
}

// signFresh issues a challenge and signs it with kp.
func signFresh(t *testing.T, s *AuthServiceImpl, kp *keys.Keypair) []byte {
	t.Helper()
	ch, err := s.IssueChallenge(context.Background(), testIP)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	sig, err := ch.Sign(kp)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return sig
}

func mustKeypair(t *testing.T) *keys.Keypair {
	t.Helper()
	kp, err := keys.Random()
	if err != nil {
		t.Fatalf("keys.Random: %v", err)
	}
	return kp
}

func TestAuth_IssueChallenge(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	s := newAuth(&fakeUsers{}, &fakeLimiter{allowOK: true})
	s.now = func() time.Time { return now }

	ch, err := s.IssueChallenge(context.Background(), testIP)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if ch.ExpiresAt != uint64(now.Add(time.Minute).Unix()) {
		t.Fatalf("expires_at = %d", ch.ExpiresAt)
	}
	if ch.Signable != challenge.DeriveSignable(ch.Value[:]) {
		t.Fatalf("signable not derived from value")
	}
	if s.Outstanding() != 1 {
		t.Fatalf("outstanding = %d", s.Outstanding())
	}

	now = now.Add(time.Minute)
	if s.Outstanding() != 0 {
		t.Fatalf("expired challenge not pruned")
	}
}

func TestAuth_IssueChallenge_Bounded(t *testing.T) {
	t.Parallel()

	s := newAuth(&fakeUsers{}, &fakeLimiter{allowOK: true})
	s.maxChallenges = 2
	for i := 0; i < 2; i++ {
		if _, err := s.IssueChallenge(context.Background(), testIP); err != nil {
			t.Fatalf("IssueChallenge: %v", err)
		}
	}
	if _, err := s.IssueChallenge(context.Background(), testIP); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
}

func TestAuth_IssueChallenge_PerIP(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newAuth(&fakeUsers{}, &fakeLimiter{allowOK: true})
	s.maxPerIP = 2
	kp := mustKeypair(t)

	first := signFresh(t, s, kp)
	for i := 0; i < 2; i++ {
		if _, err := s.IssueChallenge(ctx, testIP); err != nil {
			t.Fatalf("IssueChallenge: %v", err)
		}
	}
	if s.Outstanding() != 2 {
		t.Fatalf("outstanding = %d, want 2", s.Outstanding())
	}
	// The oldest challenge of the address was dropped.
	if _, err := s.Signup(ctx, kp.UserID(), first, testIP); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for evicted challenge, got %v", err)
	}

	// Other addresses keep their own challenges.
	ch, err := s.IssueChallenge(ctx, "5.6.7.8")
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if s.Outstanding() != 3 {
		t.Fatalf("outstanding = %d, want 3", s.Outstanding())
	}
	sig, err := ch.Sign(kp)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := s.Signup(ctx, kp.UserID(), sig, testIP); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for challenge of another address, got %v", err)
	}
	if _, err := s.Signup(ctx, kp.UserID(), sig, "5.6.7.8"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if s.Outstanding() != 2 {
		t.Fatalf("outstanding = %d, want 2", s.Outstanding())
	}
}

func TestAuth_Signup_ConsumesChallenge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	users := &fakeUsers{}
	lim := &fakeLimiter{allowOK: true}
	s := newAuth(users, lim)
	kp := mustKeypair(t)

	sig := signFresh(t, s, kp)
	tok, err := s.Signup(ctx, kp.UserID(), sig, testIP)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if tok.Value == "" || tok.Session.UserID != kp.UserID() {
		t.Fatalf("bad token: %+v", tok)
	}
	if _, ok := users.byID[kp.UserID()]; !ok {
		t.Fatalf("user not registered")
	}
	if lim.successCalls != 1 {
		t.Fatalf("expected Success() to be called")
	}

	// Replaying the same signature fails: the challenge was consumed.
	if _, err := s.Signup(ctx, kp.UserID(), sig, testIP); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on replay, got %v", err)
	}
	if lim.failureCalls != 1 {
		t.Fatalf("expected Failure() to be called")
	}

	// Signing up again with a fresh challenge is allowed.
	if _, err := s.Signup(ctx, kp.UserID(), signFresh(t, s, kp), testIP); err != nil {
		t.Fatalf("repeat Signup: %v", err)
	}
}

func TestAuth_Signup_Rejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	users := &fakeUsers{}
	lim := &fakeLimiter{allowOK: true}
	s := newAuth(users, lim)
	kp, other := mustKeypair(t), mustKeypair(t)

	if _, err := s.Signup(ctx, "not-a-key", []byte{1}, testIP); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}

	// Signature by another key.
	if _, err := s.Signup(ctx, kp.UserID(), signFresh(t, s, other), testIP); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}

	lim.allowErr = errors.New("lim-err")
	if _, err := s.Signup(ctx, kp.UserID(), signFresh(t, s, kp), testIP); err == nil || errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want limiter error propagate, got %v", err)
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, err := s.Signup(ctx, kp.UserID(), signFresh(t, s, kp), testIP); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	lim.failBlocked = true
	if _, err := s.Signup(ctx, kp.UserID(), []byte("garbage"), testIP); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited once blocked, got %v", err)
	}
	lim.failBlocked = false

	users.createErr = errors.New("boom")
	if _, err := s.Signup(ctx, kp.UserID(), signFresh(t, s, kp), testIP); err == nil || err.Error() != "boom" {
		t.Fatalf("want propagated repo error, got %v", err)
	}
}

func TestAuth_Signup_ExpiredChallenge(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	s := newAuth(&fakeUsers{}, &fakeLimiter{allowOK: true})
	s.now = func() time.Time { return now }
	kp := mustKeypair(t)

	sig := signFresh(t, s, kp)
	now = now.Add(time.Minute)
	if _, err := s.Signup(context.Background(), kp.UserID(), sig, testIP); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for expired challenge, got %v", err)
	}
}

func TestAuth_Login(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newAuth(&fakeUsers{}, &fakeLimiter{allowOK: true})
	kp := mustKeypair(t)

	if _, err := s.Login(ctx, kp.UserID(), signFresh(t, s, kp), testIP); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown user, got %v", err)
	}
	if _, err := s.Signup(ctx, kp.UserID(), signFresh(t, s, kp), testIP); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	tok, err := s.Login(ctx, kp.UserID(), signFresh(t, s, kp), testIP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	sess, err := s.Authenticate(ctx, tok.Value)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if sess.UserID != kp.UserID() || sess.ID != tok.Session.ID {
		t.Fatalf("bad session: %+v", sess)
	}
}

func TestAuth_AuthenticateAndLogout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newAuth(&fakeUsers{}, &fakeLimiter{allowOK: true})
	kp := mustKeypair(t)

	tok, err := s.Signup(ctx, kp.UserID(), signFresh(t, s, kp), testIP)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	if _, err := s.Authenticate(ctx, "garbage"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for garbage token, got %v", err)
	}

	forged := NewAuthService(&fakeUsers{}, memory.NewSessionRepo(), &fakeLimiter{allowOK: true}, []byte("other"), time.Hour, time.Minute)
	if _, err := forged.Authenticate(ctx, tok.Value); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for wrong key, got %v", err)
	}

	if err := s.Logout(ctx, tok.Value, mustKeypair(t).UserID()); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("want ErrForbidden for foreign user id, got %v", err)
	}
	if err := s.Logout(ctx, tok.Value, kp.UserID()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := s.Authenticate(ctx, tok.Value); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized after logout, got %v", err)
	}
}

func TestAuth_SessionExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	s := newAuth(&fakeUsers{}, &fakeLimiter{allowOK: true})
	s.now = func() time.Time { return now }
	kp := mustKeypair(t)

	tok, err := s.Signup(ctx, kp.UserID(), signFresh(t, s, kp), testIP)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := s.Authenticate(ctx, tok.Value); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for expired session, got %v", err)
	}
}
