// Package httpapi exposes the homeserver HTTP API: challenge issuance,
// signup and login by root signature, sessions, and per-user repos.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pubky/pubky-core-client/internal/model"
	"github.com/pubky/pubky-core-client/internal/service"
	"github.com/pubky/pubky-core-client/pkg/auth"
	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/transport"
)

// maxSignatureBody bounds the body of signup and login requests.
const maxSignatureBody = 1024

// Server wires services into HTTP handlers.
type Server struct {
	auth     service.AuthService
	repos    service.RepoService
	log      *zap.Logger
	maxEntry int64
	secure   bool
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.log = l } }

// WithMaxEntrySize bounds request bodies stored in repos.
func WithMaxEntrySize(n int) Option { return func(s *Server) { s.maxEntry = int64(n) } }

// WithSecureCookies marks the session cookie Secure. Use behind TLS.
func WithSecureCookies(on bool) Option { return func(s *Server) { s.secure = on } }

// New constructs a server with injected services.
func New(a service.AuthService, repos service.RepoService, opts ...Option) *Server {
	s := &Server{
		auth:     a,
		repos:    repos,
		log:      zap.NewNop(),
		maxEntry: service.DefaultMaxEntrySize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes returns the bare API mux, without middleware.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /mvp/challenge", s.challenge)
	mux.HandleFunc("PUT /mvp/users/{id}/pkarr", s.signup)
	mux.HandleFunc("PUT /mvp/session/{id}", s.login)
	mux.Handle("GET /mvp/session", s.authed(s.session))
	mux.Handle("DELETE /mvp/session/{id}", s.authed(s.logout))

	mux.Handle("PUT /mvp/users/{id}/repos/{repo}", s.authed(s.createRepo))
	mux.HandleFunc("GET /mvp/users/{id}/repos/{repo}", s.listRepo)
	mux.Handle("PUT /mvp/users/{id}/repos/{repo}/{path...}", s.authed(s.putEntry))
	mux.HandleFunc("GET /mvp/users/{id}/repos/{repo}/{path...}", s.getEntry)
	mux.Handle("DELETE /mvp/users/{id}/repos/{repo}/{path...}", s.authed(s.deleteEntry))

	return mux
}

// Handler returns the API with request id, recover and logging middleware.
func (s *Server) Handler() http.Handler {
	return Chain(s.Routes(), RequestID, Logging(s.log), Recover(s.log))
}

// --- Auth ---

func (s *Server) challenge(w http.ResponseWriter, r *http.Request) {
	ch, err := s.auth.IssueChallenge(r.Context(), remoteIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(ch.Serialize())
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	s.rootSignature(w, r, s.auth.Signup)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	s.rootSignature(w, r, s.auth.Login)
}

type signatureFunc func(ctx context.Context, userID string, sig []byte, ip string) (model.Token, error)

// rootSignature reads a signature body, hands it to fn and sets the session
// cookie from the issued token.
func (s *Server) rootSignature(w http.ResponseWriter, r *http.Request, fn signatureFunc) {
	sig, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignatureBody))
	if err != nil {
		s.writeError(w, r, bodyError(err))
		return
	}
	if len(sig) != keys.SignatureSize {
		http.Error(w, "signature must be 64 bytes", http.StatusBadRequest)
		return
	}
	tok, err := fn(r.Context(), r.PathValue("id"), sig, remoteIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, s.cookie(tok.Value, tok.Session.ExpiresAt))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromCtx(r.Context())
	info := auth.SessionInfo{Users: map[string]auth.UserSession{
		sess.UserID: {Permissions: []string{"/" + sess.UserID + "/:rw"}},
	}}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	ck, _ := r.Cookie(transport.SessionCookie)
	if err := s.auth.Logout(r.Context(), ck.Value, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     transport.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// authed rejects requests without a live session and stores it in context.
func (s *Server) authed(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(transport.SessionCookie)
		if err != nil || ck.Value == "" {
			http.Error(w, "no session", http.StatusUnauthorized)
			return
		}
		sess, err := s.auth.Authenticate(r.Context(), ck.Value)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		h(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

func (s *Server) cookie(value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     transport.SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if !expires.IsZero() {
		c.Expires = expires.UTC()
	}
	return c
}

// --- Repos ---

func (s *Server) createRepo(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromCtx(r.Context())
	if err := s.repos.CreateRepo(r.Context(), sess, r.PathValue("id"), r.PathValue("repo")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) listRepo(w http.ResponseWriter, r *http.Request) {
	paths, err := s.repos.List(r.Context(), r.PathValue("id"), r.PathValue("repo"), r.URL.Query().Get("prefix"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paths)
}

func (s *Server) putEntry(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromCtx(r.Context())
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxEntry))
	if err != nil {
		s.writeError(w, r, bodyError(err))
		return
	}
	ver, err := s.repos.Put(r.Context(), sess, r.PathValue("id"), r.PathValue("repo"), r.PathValue("path"), data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(ver))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.repos.Get(r.Context(), r.PathValue("id"), r.PathValue("repo"), r.PathValue("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(e.Ver))
	if !e.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", e.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag(e.Ver) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(e.Data)))
	_, _ = w.Write(e.Data)
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromCtx(r.Context())
	if err := s.repos.Delete(r.Context(), sess, r.PathValue("id"), r.PathValue("repo"), r.PathValue("path")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func etag(ver int64) string { return strconv.Quote(strconv.FormatInt(ver, 10)) }

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errs.ErrTooLarge
	}
	return errs.ErrInvalidInput
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errs.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFromCtx(r.Context())),
			zap.Error(err),
		)
		http.Error(w, "internal", code)
		return
	}
	http.Error(w, err.Error(), code)
}
