package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pubky/pubky-core-client/internal/config"
	"github.com/pubky/pubky-core-client/internal/keystore"
	"github.com/pubky/pubky-core-client/pkg/client"
	"github.com/pubky/pubky-core-client/pkg/dht"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/resolver"
	"github.com/pubky/pubky-core-client/pkg/transport"
)

// PassphraseEnv holds the keystore passphrase.
const PassphraseEnv = "PUBKY_PASSPHRASE"

// app is the state shared by all commands.
type app struct {
	dir     string
	relay   string
	verbose bool

	cfg config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pubky",
		Short:         "pubky identity and homeserver client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.dir, "config-dir", "", "configuration directory (default $XDG_CONFIG_HOME/pubky)")
	root.PersistentFlags().StringVar(&a.relay, "relay", "", "pkarr relay URL (overrides config)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log requests to stderr")

	root.AddCommand(
		a.keygenCmd(),
		a.signupCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.sessionCmd(),
		a.resolveCmd(),
		a.publishCmd(),
		a.repoCmd(),
		a.putCmd(),
		a.getCmd(),
		a.rmCmd(),
		a.lsCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) init() error {
	if a.dir == "" {
		a.dir = config.Dir()
	}
	cfg, err := config.Load(filepath.Join(a.dir, config.FileName))
	if err != nil {
		return err
	}
	if a.relay != "" {
		cfg.Relay = a.relay
	}
	a.cfg = cfg

	a.log = zap.NewNop()
	if a.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		a.log = l
	}
	return nil
}

func (a *app) transport() *transport.Client {
	hc := &http.Client{Timeout: a.cfg.Timeout.Duration}
	return transport.New(transport.WithHTTPClient(hc), transport.WithLogger(a.log), transport.WithUserAgent("pubky-cli/"+version))
}

func (a *app) resolver() (*resolver.Resolver, error) {
	if a.cfg.Relay == "" {
		return nil, errors.New("no relay configured")
	}
	relay, err := dht.NewRelay(a.cfg.Relay, &http.Client{Timeout: a.cfg.Timeout.Duration})
	if err != nil {
		return nil, err
	}
	var cache resolver.Cache = resolver.NopCache{}
	if a.cfg.CacheSize > 0 {
		lru, err := resolver.NewLRUCache(a.cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		cache = lru
	}
	return resolver.New(relay, resolver.WithCache(cache), resolver.WithLogger(a.log)), nil
}

func (a *app) client() (*client.Client, error) {
	res, err := a.resolver()
	if err != nil {
		return nil, err
	}
	return client.New(res, client.WithTransport(a.transport()), client.WithLogger(a.log)), nil
}

func passphrase() ([]byte, error) {
	p := os.Getenv(PassphraseEnv)
	if p == "" {
		return nil, fmt.Errorf("set %s to unlock the keystore", PassphraseEnv)
	}
	return []byte(p), nil
}

func (a *app) keystorePath() string { return a.cfg.KeystorePath(a.dir) }

func (a *app) seed() ([keys.SeedSize]byte, error) {
	pw, err := passphrase()
	if err != nil {
		return [keys.SeedSize]byte{}, err
	}
	defer keys.Wipe(pw)
	return keystore.Load(a.keystorePath(), pw)
}

// userID returns the identity held in the keystore.
func (a *app) userID() (string, error) {
	seed, err := a.seed()
	if err != nil {
		return "", err
	}
	kp := keys.FromSeed(seed)
	defer kp.Zeroize()
	keys.Wipe(seed[:])
	return kp.UserID(), nil
}

// restored returns a client holding the saved session of userID.
func (a *app) restored(userID string) (*client.Client, error) {
	s, err := config.LoadSession(a.dir, userID)
	if err != nil {
		return nil, err
	}
	hs, err := url.Parse(s.Homeserver)
	if err != nil {
		return nil, err
	}
	c, err := a.client()
	if err != nil {
		return nil, err
	}
	if err := c.Restore(userID, hs, s.SessionID); err != nil {
		return nil, err
	}
	return c, nil
}

// persist saves the current session of userID, which may have been rotated.
func (a *app) persist(c *client.Client, userID string) error {
	hs, sid, err := c.SessionState(userID)
	if err != nil {
		return err
	}
	if sid == "" {
		return config.DeleteSession(a.dir, userID)
	}
	return config.SaveSession(a.dir, config.SessionFile{UserID: userID, Homeserver: hs.String(), SessionID: sid})
}

func (a *app) homeserverURL(flag string) (*url.URL, error) {
	raw := flag
	if raw == "" {
		raw = a.cfg.Homeserver
	}
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse homeserver url: %w", err)
	}
	return u, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
