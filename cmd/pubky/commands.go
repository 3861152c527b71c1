package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/pubky/pubky-core-client/internal/config"
	"github.com/pubky/pubky-core-client/internal/keystore"
	"github.com/pubky/pubky-core-client/pkg/client"
	"github.com/pubky/pubky-core-client/pkg/keys"
)

func (a *app) keygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new identity and store its seed encrypted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.keystorePath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("keystore %s exists (use --force to overwrite)", path)
			}
			pw, err := passphrase()
			if err != nil {
				return err
			}
			defer keys.Wipe(pw)
			seed, err := keys.GenerateSeed()
			if err != nil {
				return err
			}
			defer keys.Wipe(seed[:])
			if err := keystore.Save(path, pw, seed); err != nil {
				return err
			}
			kp := keys.FromSeed(seed)
			defer kp.Zeroize()
			fmt.Fprintln(cmd.OutOrStdout(), kp.UserID())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	return cmd
}

func (a *app) signupCmd() *cobra.Command {
	return a.authCmd("signup", "Register the identity with a homeserver")
}

func (a *app) loginCmd() *cobra.Command {
	return a.authCmd("login", "Open a session on the identity's homeserver")
}

func (a *app) authCmd(name, short string) *cobra.Command {
	var hsFlag string
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hs, err := a.homeserverURL(hsFlag)
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			seed, err := a.seed()
			if err != nil {
				return err
			}
			defer keys.Wipe(seed[:])

			var id string
			if name == "signup" {
				id, err = c.Signup(cmdContext(cmd), seed, hs)
			} else {
				id, err = c.Login(cmdContext(cmd), seed, hs)
			}
			if err != nil {
				return err
			}
			if err := a.persist(c, id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&hsFlag, "homeserver", "", "homeserver URL (default: config, then resolve)")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.userID()
			if err != nil {
				return err
			}
			c, err := a.restored(id)
			if err != nil {
				return err
			}
			if _, err := c.Logout(cmdContext(cmd), id); err != nil {
				return err
			}
			return config.DeleteSession(a.dir, id)
		},
	}
}

func (a *app) sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the saved session as the homeserver sees it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.userID()
			if err != nil {
				return err
			}
			c, err := a.restored(id)
			if err != nil {
				return err
			}
			info, err := c.Session(cmdContext(cmd), id)
			if err != nil {
				return err
			}
			if err := a.persist(c, id); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <public-key>",
		Short: "Print the homeserver URL of an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := keys.ParsePublicKey(args[0])
			if err != nil {
				return err
			}
			res, err := a.resolver()
			if err != nil {
				return err
			}
			u, err := res.ResolveHomeserver(cmdContext(cmd), pub)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u.String())
			return nil
		},
	}
}

func (a *app) publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <homeserver-url>",
		Short: "Point the identity at a homeserver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hs, err := url.Parse(args[0])
			if err != nil {
				return err
			}
			res, err := a.resolver()
			if err != nil {
				return err
			}
			seed, err := a.seed()
			if err != nil {
				return err
			}
			kp := keys.FromSeed(seed)
			keys.Wipe(seed[:])
			defer kp.Zeroize()
			return res.Publish(cmdContext(cmd), kp, hs)
		},
	}
}

func (a *app) repoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkrepo <repo>",
		Short: "Create a repo on the homeserver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, c, err := a.session()
			if err != nil {
				return err
			}
			if err := c.Create(cmdContext(cmd), id, args[0]); err != nil {
				return err
			}
			return a.persist(c, id)
		},
	}
}

func (a *app) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <repo> <path> <file|->",
		Short: "Store a file in a repo and print its URL",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readAll(cmd.InOrStdin(), args[2])
			if err != nil {
				return err
			}
			id, c, err := a.session()
			if err != nil {
				return err
			}
			u, err := c.Put(cmdContext(cmd), id, args[0], args[1], data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u.String())
			return a.persist(c, id)
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <public-key> <repo> <path>",
		Short: "Read an entry from any identity's repo",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			data, err := c.Get(cmdContext(cmd), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func (a *app) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <public-key> <repo>",
		Short: "List the entries of a repo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			list, err := c.List(cmdContext(cmd), args[0], args[1])
			if err != nil {
				return err
			}
			for _, p := range list {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <repo> <path>",
		Short: "Delete an entry from a repo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, c, err := a.session()
			if err != nil {
				return err
			}
			if err := c.Delete(cmdContext(cmd), id, args[0], args[1]); err != nil {
				return err
			}
			return a.persist(c, id)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "pubky %s (%s)\n", version, buildDate)
			return nil
		},
	}
}

// session returns the keystore identity and a client holding its saved session.
func (a *app) session() (string, *client.Client, error) {
	id, err := a.userID()
	if err != nil {
		return "", nil, err
	}
	c, err := a.restored(id)
	if errors.Is(err, config.ErrNoSession) {
		return "", nil, fmt.Errorf("%w: run pubky login", err)
	}
	return id, c, err
}

func readAll(stdin io.Reader, p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
