package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pubky/pubky-core-client/pkg/challenge"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/transport"
)

// fakeHomeserver implements just enough of the homeserver protocol for the
// auth flow.
type fakeHomeserver struct {
	mu         sync.Mutex
	challenges []challenge.Challenge
	users      map[string]bool
	sessions   map[string]string // session id → user id
	ttl        time.Duration
	rotate     bool
	failChal   bool
	reject     bool
}

func newFakeHomeserver(t *testing.T) (*fakeHomeserver, *url.URL) {
	t.Helper()
	hs := &fakeHomeserver{
		users:    map[string]bool{},
		sessions: map[string]string{},
		ttl:      time.Minute,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mvp/challenge", hs.challenge)
	mux.HandleFunc("PUT /mvp/users/{id}/pkarr", hs.signature(true))
	mux.HandleFunc("PUT /mvp/session/{id}", hs.signature(false))
	mux.HandleFunc("GET /mvp/session", hs.session)
	mux.HandleFunc("DELETE /mvp/session/{id}", hs.logout)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return hs, u
}

func (hs *fakeHomeserver) challenge(w http.ResponseWriter, _ *http.Request) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.failChal {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	ch, err := challenge.New(uint64(time.Now().Add(hs.ttl).Unix()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hs.challenges = append(hs.challenges, ch)
	_, _ = w.Write(ch.Serialize())
}

func (hs *fakeHomeserver) signature(signup bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		pub, err := keys.ParsePublicKey(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sig, _ := io.ReadAll(r.Body)

		hs.mu.Lock()
		defer hs.mu.Unlock()
		if !signup && !hs.users[id] {
			http.Error(w, "unknown user", http.StatusNotFound)
			return
		}
		for i, ch := range hs.challenges {
			if hs.reject || ch.Verify(sig, pub) != nil {
				continue
			}
			hs.challenges = append(hs.challenges[:i], hs.challenges[i+1:]...)
			hs.users[id] = true
			sid := newSessionID()
			hs.sessions[sid] = id
			http.SetCookie(w, &http.Cookie{Name: transport.SessionCookie, Value: sid})
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "bad signature", http.StatusUnauthorized)
	}
}

func (hs *fakeHomeserver) session(w http.ResponseWriter, r *http.Request) {
	ck, err := r.Cookie(transport.SessionCookie)
	if err != nil {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	hs.mu.Lock()
	defer hs.mu.Unlock()
	id, ok := hs.sessions[ck.Value]
	if !ok {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	if hs.rotate {
		delete(hs.sessions, ck.Value)
		sid := newSessionID()
		hs.sessions[sid] = id
		http.SetCookie(w, &http.Cookie{Name: transport.SessionCookie, Value: sid})
	}
	_ = json.NewEncoder(w).Encode(SessionInfo{Users: map[string]UserSession{id: {Permissions: []string{"*"}}}})
}

func (hs *fakeHomeserver) logout(w http.ResponseWriter, r *http.Request) {
	ck, err := r.Cookie(transport.SessionCookie)
	if err != nil {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	hs.mu.Lock()
	delete(hs.sessions, ck.Value)
	hs.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: transport.SessionCookie, Value: "", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (hs *fakeHomeserver) sessionCount() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return len(hs.sessions)
}

func newSessionID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
