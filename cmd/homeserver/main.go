// Command homeserver runs a pubky homeserver: challenge-response signup and
// login, sessions, per-user repos and, optionally, a pkarr relay.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pubky/pubky-core-client/internal/keystore"
	"github.com/pubky/pubky-core-client/internal/limiter"
	"github.com/pubky/pubky-core-client/internal/migrate"
	"github.com/pubky/pubky-core-client/internal/relayserver"
	"github.com/pubky/pubky-core-client/internal/repository"
	"github.com/pubky/pubky-core-client/internal/repository/memory"
	"github.com/pubky/pubky-core-client/internal/repository/postgres"
	"github.com/pubky/pubky-core-client/internal/server/httpapi"
	"github.com/pubky/pubky-core-client/internal/service"
	"github.com/pubky/pubky-core-client/pkg/dht"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/resolver"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// relayPrefix is where -serve-relay mounts the relay handler.
const relayPrefix = "/pkarr"

type options struct {
	addr         string
	dsn          string
	jwtKey       string
	sessionTTL   time.Duration
	challengeTTL time.Duration
	publicURL    string
	relay        string
	serveRelay   bool
	keystore     string
	maxEntry     int
	tlsCert      string
	tlsKey       string
	dev          bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("homeserver", flag.ContinueOnError)
	fs.StringVar(&o.addr, "addr", ":6286", "listen address")
	fs.StringVar(&o.dsn, "dsn", "", "PostgreSQL DSN (empty keeps everything in memory)")
	fs.StringVar(&o.jwtKey, "jwt-key", "", "HS256 session signing key (required)")
	fs.DurationVar(&o.sessionTTL, "session-ttl", 24*time.Hour, "session lifetime")
	fs.DurationVar(&o.challengeTTL, "challenge-ttl", time.Minute, "challenge lifetime")
	fs.StringVar(&o.publicURL, "public-url", "", "URL clients reach this server at (default http://localhost:<port>)")
	fs.StringVar(&o.relay, "relay", "", "pkarr relay to publish the server record to")
	fs.BoolVar(&o.serveRelay, "serve-relay", false, "serve a pkarr relay under "+relayPrefix)
	fs.StringVar(&o.keystore, "keystore", "", "sealed server seed; passphrase in PUBKY_PASSPHRASE (empty: ephemeral key)")
	fs.IntVar(&o.maxEntry, "max-entry", service.DefaultMaxEntrySize, "max stored entry size in bytes")
	fs.StringVar(&o.tlsCert, "tls-cert", "", "TLS certificate (PEM); serves HTTPS together with -tls-key")
	fs.StringVar(&o.tlsKey, "tls-key", "", "TLS private key (PEM)")
	fs.BoolVar(&o.dev, "dev", false, "development logging")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.jwtKey == "" {
		return o, errors.New("missing jwt signing key (-jwt-key)")
	}
	if (o.tlsCert == "") != (o.tlsKey == "") {
		return o, errors.New("-tls-cert and -tls-key must be given together")
	}
	if o.publicURL == "" && o.tlsCert != "" {
		return o, errors.New("-public-url is required with TLS")
	}
	if o.publicURL == "" {
		_, port, err := net.SplitHostPort(o.addr)
		if err != nil {
			return o, fmt.Errorf("parse -addr: %w", err)
		}
		o.publicURL = "http://localhost:" + port
	}
	return o, nil
}

// main parses flags, wires the storage backend, publishes the server record
// and serves until SIGINT or SIGTERM.
func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if o.dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", o.addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// backend holds the storage chosen by -dsn.
type backend struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	blobs    repository.BlobRepository
	records  dht.Store
	lim      limiter.Limiter
	close    func()
}

func openBackend(ctx context.Context, o options) (*backend, error) {
	if o.dsn == "" {
		return &backend{
			users:    memory.NewUserRepo(),
			sessions: memory.NewSessionRepo(),
			blobs:    memory.NewBlobRepo(),
			records:  dht.NewMemoryStore(),
			lim:      limiter.NewMemory(15*time.Minute, 5, 15*time.Minute),
			close:    func() {},
		}, nil
	}
	if err := migrate.Up(ctx, o.dsn); err != nil {
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, o.dsn)
	if err != nil {
		return nil, err
	}
	return &backend{
		users:    postgres.NewUserRepo(db),
		sessions: postgres.NewSessionRepo(db),
		blobs:    postgres.NewBlobRepo(db),
		records:  postgres.NewRecordRepo(db),
		lim:      limiter.NewPG(db.Pool, 15*time.Minute, 5, 15*time.Minute),
		close:    db.Close,
	}, nil
}

func serverKey(o options, log *zap.Logger) (*keys.Keypair, error) {
	if o.keystore == "" {
		log.Warn("no -keystore given, using an ephemeral server key")
		return keys.Random()
	}
	pw := []byte(os.Getenv("PUBKY_PASSPHRASE"))
	defer keys.Wipe(pw)
	seed, err := keystore.Load(o.keystore, pw)
	if err != nil {
		return nil, fmt.Errorf("load server key: %w", err)
	}
	defer keys.Wipe(seed[:])
	return keys.FromSeed(seed), nil
}

// handler builds the HTTP surface: the API, plus the relay when enabled.
func handler(o options, b *backend, log *zap.Logger) http.Handler {
	authSvc := service.NewAuthService(b.users, b.sessions, b.lim, []byte(o.jwtKey), o.sessionTTL, o.challengeTTL)
	repoSvc := service.NewRepoService(b.blobs, o.maxEntry)
	api := httpapi.New(authSvc, repoSvc,
		httpapi.WithLogger(log),
		httpapi.WithMaxEntrySize(repoSvc.MaxEntrySize()),
		httpapi.WithSecureCookies(isHTTPS(o.publicURL)),
	)
	if !o.serveRelay {
		return api.Handler()
	}
	mux := api.Routes()
	mux.Handle(relayPrefix+"/", http.StripPrefix(relayPrefix, relayserver.New(b.records, log, resolver.ApexTTL)))
	return httpapi.Chain(mux, httpapi.RequestID, httpapi.Logging(log), httpapi.Recover(log))
}

func isHTTPS(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "https"
}

// publishSelf writes the server's own record so clients can resolve it.
func publishSelf(ctx context.Context, o options, b *backend, kp *keys.Keypair, log *zap.Logger) error {
	u, err := url.Parse(o.publicURL)
	if err != nil {
		return fmt.Errorf("parse -public-url: %w", err)
	}
	var store dht.Store = b.records
	if o.relay != "" {
		if store, err = dht.NewRelay(o.relay, nil); err != nil {
			return err
		}
	} else if !o.serveRelay {
		log.Warn("no -relay and no -serve-relay: the server record is only stored locally")
	}
	res := resolver.New(store, resolver.WithLogger(log))
	return res.Publish(ctx, kp, u)
}

func run(ctx context.Context, o options, log *zap.Logger) error {
	b, err := openBackend(ctx, o)
	if err != nil {
		return err
	}
	defer b.close()

	kp, err := serverKey(o, log)
	if err != nil {
		return err
	}
	defer kp.Zeroize()
	log.Info("server identity", zap.String("public_key", kp.UserID()), zap.String("url", o.publicURL))

	srv := &http.Server{
		Addr:              o.addr,
		Handler:           handler(o, b, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if o.tlsCert != "" {
		cert, err := tls.LoadX509KeyPair(o.tlsCert, o.tlsKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}
	lis, err := net.Listen("tcp", o.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	if srv.TLSConfig != nil {
		log.Info("listening (TLS)", zap.String("addr", lis.Addr().String()))
		go func() { errCh <- srv.ServeTLS(lis, "", "") }()
	} else {
		log.Info("listening", zap.String("addr", lis.Addr().String()))
		go func() { errCh <- srv.Serve(lis) }()
	}

	if err := publishSelf(ctx, o, b, kp, log); err != nil {
		// Serving still works for clients given the URL directly.
		log.Error("publish server record", zap.Error(err))
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
