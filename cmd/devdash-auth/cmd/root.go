package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/client"
	"github.com/goliatone/go-auth-client/repository"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

type app struct {
	configPath string
	usersDB    string
	seedDemo   bool
	verbose    bool

	logger *logrus.Logger
	db     *bun.DB
	client *client.Client
}

// NewRootCommand builds the devdash-auth command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "devdash-auth",
		Short: "Sign in to DevDash and manage the linked source-forge account",
		Long: `devdash-auth manages the DevDash session on this machine: email/password,
social and enterprise sign-in, token refresh and the optional GitHub account link.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.open(cmd.Context(), cmd.ErrOrStderr()); err != nil {
				_ = a.close()
				return err
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&a.usersDB, "users-db", "", "sqlite database with email/password accounts")
	flags.BoolVar(&a.seedDemo, "seed-demo", false, "seed the demo accounts into --users-db")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log debug output")

	root.AddCommand(
		newLoginCommand(a),
		newLogoutCommand(a),
		newStatusCommand(a),
		newWhoamiCommand(a),
		newRefreshCommand(a),
		newLinkCommand(a),
		newUnlinkCommand(a),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	root := NewRootCommand()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "error: %s\n", describe(err))
		os.Exit(1)
	}
}

// run wraps a subcommand so the stores are released even when it fails.
func (a *app) run(fn func(cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		err := fn(cmd)
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
		return err
	}
}

func (a *app) open(ctx context.Context, logOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.logger = logrus.New()
	a.logger.SetOutput(logOut)
	a.logger.SetLevel(logrus.WarnLevel)
	if a.verbose {
		a.logger.SetLevel(logrus.DebugLevel)
	}
	logger := authclient.NewLogrusLogger(a.logger)

	cfg := authclient.DefaultConfig()
	if a.configPath != "" {
		loaded, err := authclient.LoadConfig(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	opts := []client.Option{client.WithLogger(logger)}
	if a.usersDB != "" {
		dir, err := a.openDirectory(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, client.WithCredentialDirectory(dir))
	}

	c, err := client.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	a.client = c
	c.Initialize(ctx)
	return nil
}

func (a *app) openDirectory(ctx context.Context) (*repository.CredentialDirectory, error) {
	db, err := repository.Open(a.usersDB)
	if err != nil {
		return nil, err
	}
	a.db = db

	dir := repository.NewCredentialDirectory(db)
	if err := dir.CreateSchema(ctx); err != nil {
		return nil, err
	}
	if a.seedDemo {
		if err := dir.SeedDemo(ctx); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

func (a *app) close() error {
	var err error
	if a.client != nil {
		err = a.client.Close()
		a.client = nil
	}
	if a.db != nil {
		if dbErr := a.db.Close(); dbErr != nil && err == nil {
			err = dbErr
		}
		a.db = nil
	}
	return err
}

// describe renders an error the way the dashboard shows it inline.
func describe(err error) string {
	switch authclient.KindOf(err) {
	case authclient.KindSecurity:
		return "sign-in was rejected: possible forgery attempt"
	case authclient.KindExpired:
		return "session expired, sign in again"
	case authclient.KindNetwork:
		return fmt.Sprintf("could not reach the service: %v", err)
	default:
		return err.Error()
	}
}
