package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/callback"
	"github.com/goliatone/go-auth-client/link"
	"github.com/spf13/cobra"
)

// tokenEnv lets scripts pass the access token without it showing up in ps.
const tokenEnv = "DEVDASH_GITHUB_TOKEN"

func newLinkCommand(a *app) *cobra.Command {
	var (
		token   string
		oauth   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Connect a GitHub account to DevDash",
		Long: `Connect a GitHub account with a personal access token (--token, or the
` + tokenEnv + ` environment variable) or through the GitHub authorization page (--oauth).
The link is kept across sign-outs until you run unlink.`,
		RunE: a.run(func(cmd *cobra.Command) error {
			ctx := cmd.Context()

			var (
				l   *link.Link
				err error
			)
			if oauth {
				l, err = a.linkWithOAuth(ctx, cmd, timeout)
			} else {
				if token == "" {
					token = os.Getenv(tokenEnv)
				}
				if strings.TrimSpace(token) == "" {
					return fmt.Errorf("%w: --token or --oauth is required", authclient.ErrInvalidInput)
				}
				l, err = a.client.ConnectSecondaryAccount(ctx, token, link.MethodToken)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Linked GitHub account %s\n", l.Username)
			return nil
		}),
	}

	flags := cmd.Flags()
	flags.StringVar(&token, "token", "", "GitHub personal access token")
	flags.BoolVar(&oauth, "oauth", false, "authorize through the browser instead of a token")
	flags.DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for the browser callback")
	return cmd
}

func (a *app) linkWithOAuth(ctx context.Context, cmd *cobra.Command, timeout time.Duration) (*link.Link, error) {
	receiver, err := startReceiver(a.client.Config().Secondary.RedirectURI, a)
	if err != nil {
		return nil, err
	}
	defer shutdownReceiver(receiver)

	intent, err := a.client.BeginSecondaryOAuth(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to authorize DevDash:\n\n  %s\n\n", intent.URL)

	return a.completeLink(ctx, receiver, timeout)
}

func (a *app) completeLink(ctx context.Context, receiver *callback.Receiver, timeout time.Duration) (*link.Link, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cb, err := receiver.Wait(waitCtx)
	if err != nil {
		return nil, err
	}
	return a.client.ConnectSecondaryAccount(ctx, cb.Code, link.MethodOAuth, link.WithState(cb.State))
}

func newUnlinkCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink",
		Short: "Disconnect the linked GitHub account",
		RunE: a.run(func(cmd *cobra.Command) error {
			if err := a.client.DisconnectSecondaryAccount(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "GitHub account unlinked")
			return nil
		}),
	}
}
