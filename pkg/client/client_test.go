package client

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pubky/pubky-core-client/internal/limiter"
	"github.com/pubky/pubky-core-client/internal/repository/memory"
	"github.com/pubky/pubky-core-client/internal/server/httpapi"
	"github.com/pubky/pubky-core-client/internal/service"
	"github.com/pubky/pubky-core-client/pkg/auth"
	"github.com/pubky/pubky-core-client/pkg/dht"
	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/resolver"
)

func startHomeserver(t *testing.T) *url.URL {
	t.Helper()
	authSvc := service.NewAuthService(
		memory.NewUserRepo(), memory.NewSessionRepo(),
		limiter.NewMemory(time.Minute, 5, time.Minute),
		[]byte("secret"), time.Hour, time.Minute,
	)
	srv := httptest.NewServer(httpapi.New(authSvc, service.NewRepoService(memory.NewBlobRepo(), 0)).Handler())
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u
}

func newSeed(t *testing.T) [keys.SeedSize]byte {
	t.Helper()
	s, err := keys.GenerateSeed()
	require.NoError(t, err)
	return s
}

func TestClient_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hs := startHomeserver(t)
	store := dht.NewMemoryStore()
	c := New(resolver.New(store), WithLogger(zaptest.NewLogger(t)))

	seed := newSeed(t)
	id, err := c.Signup(ctx, seed, hs)
	require.NoError(t, err)
	require.Equal(t, keys.FromSeed(seed).UserID(), id)
	require.Equal(t, []string{id}, c.Users())

	// Signup published the record: the identity now resolves.
	pub, err := keys.ParsePublicKey(id)
	require.NoError(t, err)
	resolved, err := c.Resolve(ctx, pub)
	require.NoError(t, err)
	require.Equal(t, hs.Port(), resolved.Port())

	info, err := c.Session(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{id}, info.UserIDs())

	require.NoError(t, c.Create(ctx, id, "blog"))
	u, err := c.Put(ctx, id, "blog", "/posts/1", []byte("hello"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(u.Path, "/mvp/users/"+id+"/repos/blog/posts/1"), u.String())

	got, err := c.Get(ctx, id, "blog", "posts/1")
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	// A reader without a session resolves the homeserver from the record.
	reader := New(resolver.New(store))
	got, err = reader.Get(ctx, id, "blog", "posts/1")
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
	list, err := reader.List(ctx, id, "blog")
	require.NoError(t, err)
	require.Equal(t, []string{"posts/1"}, list)

	require.NoError(t, c.Delete(ctx, id, "blog", "posts/1"))
	_, err = c.Get(ctx, id, "blog", "posts/1")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, sid, err := c.SessionState(id)
	require.NoError(t, err)
	old, err := c.Logout(ctx, id)
	require.NoError(t, err)
	require.Equal(t, sid, old)
	require.NotEmpty(t, old)
	require.Empty(t, c.Users())
	_, err = c.Session(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotSignedUp)
}

func TestClient_UnknownUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(nil)
	id := keys.FromSeed(newSeed(t)).UserID()

	require.ErrorIs(t, c.Create(ctx, id, "r"), errs.ErrNotSignedUp)
	_, err := c.Put(ctx, id, "r", "p", nil)
	require.ErrorIs(t, err, errs.ErrNotSignedUp)
	require.ErrorIs(t, c.Delete(ctx, id, "r", "p"), errs.ErrNotSignedUp)
	_, err = c.Logout(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotSignedUp)
	_, err = c.Session(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotSignedUp)
	_, _, err = c.SessionState(id)
	require.ErrorIs(t, err, errs.ErrNotSignedUp)

	// Without a resolver an anonymous read cannot find the homeserver.
	_, err = c.Get(ctx, id, "r", "p")
	require.ErrorIs(t, err, errs.ErrNoHomeserver)
}

func TestClient_LoginAndRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hs := startHomeserver(t)
	seed := newSeed(t)

	first := New(nil, WithPublishPolicy(auth.PublishNever))
	id, err := first.Signup(ctx, seed, hs)
	require.NoError(t, err)

	second := New(nil)
	_, err = second.Login(ctx, seed, hs)
	require.NoError(t, err)
	gotHS, sid, err := second.SessionState(id)
	require.NoError(t, err)
	require.Equal(t, hs.String(), gotHS.String())
	require.NotEmpty(t, sid)

	third := New(nil)
	require.NoError(t, third.Restore(id, hs, sid))
	info, err := third.Session(ctx, id)
	require.NoError(t, err)
	require.Contains(t, info.Users, id)

	require.ErrorIs(t, third.Restore(id, hs, ""), errs.ErrNoSession)
	require.Error(t, third.Restore("bogus", hs, sid))
}

func TestClient_PublishResolve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(resolver.New(dht.NewMemoryStore()))
	kp := keys.FromSeed(newSeed(t))
	hs, _ := url.Parse("https://homeserver.example")

	require.NoError(t, c.Publish(ctx, kp, hs))
	got, err := c.Resolve(ctx, kp.Public())
	require.NoError(t, err)
	require.Equal(t, hs.String(), got.String())

	_, err = New(nil).Resolve(ctx, kp.Public())
	require.ErrorIs(t, err, errs.ErrNoHomeserver)
	require.ErrorIs(t, New(nil).Publish(ctx, kp, hs), errs.ErrEntryNotPublished)
}
