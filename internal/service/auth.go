// Package service contains the homeserver's application services for
// challenge-response authentication and repo storage.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pubky/pubky-core-client/internal/limiter"
	"github.com/pubky/pubky-core-client/internal/model"
	"github.com/pubky/pubky-core-client/internal/repository"
	"github.com/pubky/pubky-core-client/pkg/challenge"
	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
)

const (
	// DefaultMaxChallenges bounds the number of outstanding challenges.
	DefaultMaxChallenges = 10_000
	// DefaultMaxChallengesPerIP bounds the challenges held for one client
	// address. A signature is only checked against these.
	DefaultMaxChallengesPerIP = 8
)

// AuthService defines the homeserver side of the authentication protocol.
type AuthService interface {
	// IssueChallenge creates and remembers a fresh challenge for the client at ip.
	IssueChallenge(ctx context.Context, ip string) (challenge.Challenge, error)
	// Signup verifies a root signature, registers the user and opens a session.
	Signup(ctx context.Context, userID string, sig []byte, ip string) (model.Token, error)
	// Login verifies a root signature of a registered user and opens a session.
	Login(ctx context.Context, userID string, sig []byte, ip string) (model.Token, error)
	// Authenticate resolves a session token to its live session.
	Authenticate(ctx context.Context, token string) (model.Session, error)
	// Logout revokes the session of token, which must belong to userID.
	Logout(ctx context.Context, token, userID string) error
}

type AuthServiceImpl struct {
	users        repository.UserRepository
	sessions     repository.SessionRepository
	lim          limiter.Limiter
	signKey      []byte
	sessionTTL   time.Duration
	challengeTTL time.Duration
	now          func() time.Time

	mu            sync.Mutex
	challenges    map[string][]challenge.Challenge // by client ip, oldest first
	outstanding   int
	maxChallenges int
	maxPerIP      int
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	lim limiter.Limiter,
	signKey []byte,
	sessionTTL, challengeTTL time.Duration,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		users:         users,
		sessions:      sessions,
		lim:           lim,
		signKey:       signKey,
		sessionTTL:    sessionTTL,
		challengeTTL:  challengeTTL,
		now:           time.Now,
		challenges:    map[string][]challenge.Challenge{},
		maxChallenges: DefaultMaxChallenges,
		maxPerIP:      DefaultMaxChallengesPerIP,
	}
}

// IssueChallenge creates a challenge expiring after the configured TTL. When
// ip already holds the maximum number of challenges its oldest is dropped.
func (s *AuthServiceImpl) IssueChallenge(_ context.Context, ip string) (challenge.Challenge, error) {
	now := s.now()
	ch, err := challenge.New(uint64(now.Add(s.challengeTTL).Unix()))
	if err != nil {
		return challenge.Challenge{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	held := s.challenges[ip]
	if len(held) >= s.maxPerIP {
		held = held[1:]
		s.outstanding--
	}
	if s.outstanding >= s.maxChallenges {
		return challenge.Challenge{}, errs.ErrRateLimited
	}
	s.challenges[ip] = append(held, ch)
	s.outstanding++
	return ch, nil
}

func (s *AuthServiceImpl) pruneLocked(now time.Time) {
	for ip, held := range s.challenges {
		live := held[:0]
		for _, ch := range held {
			if !ch.ExpiredAt(now) {
				live = append(live, ch)
			}
		}
		s.outstanding -= len(held) - len(live)
		if len(live) == 0 {
			delete(s.challenges, ip)
			continue
		}
		s.challenges[ip] = live
	}
}

// Outstanding returns the number of unexpired challenges.
func (s *AuthServiceImpl) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	return s.outstanding
}

// consume removes and reports the challenge issued to ip that sig was made
// over.
func (s *AuthServiceImpl) consume(ip string, pub keys.PublicKey, sig []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.challenges[ip]
	for i, ch := range held {
		if ch.WithClock(s.now).Verify(sig, pub) != nil {
			continue
		}
		held = append(held[:i:i], held[i+1:]...)
		if len(held) == 0 {
			delete(s.challenges, ip)
		} else {
			s.challenges[ip] = held
		}
		s.outstanding--
		return true
	}
	return false
}

// verify checks sig against the challenges issued to ip with rate limiting
// by (userID, ip).
func (s *AuthServiceImpl) verify(ctx context.Context, userID string, sig []byte, ip string) error {
	pub, err := keys.ParsePublicKey(userID)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, userID, ipHash)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.ErrRateLimited
	}

	if !s.consume(ip, pub, sig) {
		if blocked, _, ferr := s.lim.Failure(ctx, userID, ipHash); ferr == nil && blocked {
			return errs.ErrRateLimited
		}
		return errs.ErrUnauthorized
	}

	// best-effort
	_ = s.lim.Success(ctx, userID, ipHash)
	return nil
}

// Signup registers userID if new. Signing up again is allowed and simply
// opens another session.
func (s *AuthServiceImpl) Signup(ctx context.Context, userID string, sig []byte, ip string) (model.Token, error) {
	if err := s.verify(ctx, userID, sig, ip); err != nil {
		return model.Token{}, err
	}
	err := s.users.Create(ctx, &model.User{ID: userID, CreatedAt: s.now()})
	if err != nil && !errors.Is(err, errs.ErrAlreadyExists) {
		return model.Token{}, err
	}
	return s.issueSession(ctx, userID)
}

// Login opens a session for a registered user.
func (s *AuthServiceImpl) Login(ctx context.Context, userID string, sig []byte, ip string) (model.Token, error) {
	if err := s.verify(ctx, userID, sig, ip); err != nil {
		return model.Token{}, err
	}
	if _, err := s.users.Get(ctx, userID); err != nil {
		return model.Token{}, err
	}
	return s.issueSession(ctx, userID)
}

// issueSession stores a session and signs an HS256 JWT naming it.
func (s *AuthServiceImpl) issueSession(ctx context.Context, userID string) (model.Token, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return model.Token{}, err
	}
	now := s.now()
	sess := model.Session{
		ID:        jti.String(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	claims := jwt.RegisteredClaims{
		ID:        sess.ID,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return model.Token{}, err
	}
	if err := s.sessions.Create(ctx, &sess); err != nil {
		return model.Token{}, err
	}
	return model.Token{Value: signed, Session: sess}, nil
}

// Authenticate validates the token signature and expiry and that the session
// has not been revoked.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, token string) (model.Session, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return model.Session{}, errs.ErrUnauthorized
	}
	sess, err := s.sessions.Get(ctx, claims.ID)
	if errors.Is(err, errs.ErrNotFound) {
		return model.Session{}, errs.ErrUnauthorized
	}
	if err != nil {
		return model.Session{}, err
	}
	if sess.UserID != claims.Subject {
		return model.Session{}, errs.ErrUnauthorized
	}
	return *sess, nil
}

func (s *AuthServiceImpl) Logout(ctx context.Context, token, userID string) error {
	sess, err := s.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return errs.ErrForbidden
	}
	if err := s.sessions.Delete(ctx, sess.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	return nil
}
