package cmd

import (
	"context"
	"fmt"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/callback"
	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
)

func newLoginCommand(a *app) *cobra.Command {
	var (
		email    string
		password string
		provider string
		remember bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email/password or a redirect provider",
		Example: `  devdash-auth login --email admin@devdash.com --password admin123 --remember
  devdash-auth login --provider google`,
		RunE: a.run(func(cmd *cobra.Command) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if provider != "" {
				sess, err := a.loginWithProvider(ctx, cmd, provider, timeout)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Signed in as %s via %s\n", sess.User.Email, provider)
				if sess.Degraded {
					fmt.Fprintln(out, "Warning: the backend was unreachable, using a simulated identity")
				}
				return nil
			}

			if email == "" || password == "" {
				return fmt.Errorf("%w: --email and --password are required unless --provider is set", authclient.ErrInvalidInput)
			}
			sess, err := a.client.LoginWithCredential(ctx, email, password, remember)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Signed in as %s (%s)\n", sess.User.Email, sess.User.Role)
			return nil
		}),
	}

	flags := cmd.Flags()
	flags.StringVar(&email, "email", "", "account email")
	flags.StringVar(&password, "password", "", "account password")
	flags.StringVar(&provider, "provider", "", "redirect provider (google, github, enterprise)")
	flags.BoolVar(&remember, "remember", false, "keep the session after the process exits")
	flags.DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for the browser callback")
	return cmd
}

func (a *app) loginWithProvider(ctx context.Context, cmd *cobra.Command, provider string, timeout time.Duration) (*authclient.Session, error) {
	cfg := a.client.Config()

	var receiver *callback.Receiver
	if !cfg.Simulated {
		r, err := startReceiver(cfg.RedirectURI, a)
		if err != nil {
			return nil, err
		}
		receiver = r
		defer shutdownReceiver(r)
	}

	res, err := a.client.LoginWithRedirectProvider(ctx, provider)
	if err != nil {
		return nil, err
	}
	if res.Session != nil {
		return res.Session, nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to continue:\n\n  %s\n\n", res.Redirect.URL)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cb, err := receiver.Wait(waitCtx)
	if err != nil {
		return nil, err
	}
	return a.client.HandleRedirectCallback(ctx, provider, cb.Code, cb.State)
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		RunE: a.run(func(cmd *cobra.Command) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		}),
	}
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session and link status",
		RunE: a.run(func(cmd *cobra.Command) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			state := a.client.Snapshot(ctx)

			if !state.Authenticated || state.User == nil {
				fmt.Fprintln(out, "Not signed in")
			} else {
				fmt.Fprintf(out, "Signed in as %s (%s)\n", state.User.Email, state.User.Role)
				fmt.Fprintf(out, "Access: %s\n", accessLevel(state.User))
				if sess, err := a.client.Manager().CurrentSession(ctx); err == nil && sess != nil {
					fmt.Fprintf(out, "Method: %s\n", sess.Method)
					fmt.Fprintf(out, "Storage: %s\n", sess.StorageTier)
					if sess.ExpiresAt.IsZero() {
						fmt.Fprintln(out, "Expires: unknown")
					} else {
						fmt.Fprintf(out, "Expires: %s\n", sess.ExpiresAt.Local().Format(time.RFC1123))
					}
				}
				if state.Degraded {
					fmt.Fprintln(out, "Degraded: simulated identity")
				}
			}

			if state.Link != nil {
				fmt.Fprintf(out, "Linked account: %s (%s)\n", state.Link.Username, state.Link.Method)
			} else {
				fmt.Fprintln(out, "Linked account: none")
			}
			return nil
		}),
	}
}

func accessLevel(u *authclient.User) string {
	switch {
	case u.HasRole(authclient.RoleAdmin):
		return "manage accounts"
	case u.HasRole(authclient.RoleDeveloper):
		return "edit"
	case u.HasRole(authclient.RoleViewer):
		return "read only"
	default:
		return "none"
	}
}

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed-in user as JSON",
		RunE: a.run(func(cmd *cobra.Command) error {
			user, err := a.client.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("%w: not signed in", authclient.ErrSessionExpired)
			}
			fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(user))
			return nil
		}),
	}
}

func newRefreshCommand(a *app) *cobra.Command {
	var showToken bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-issue the bearer token for the current session",
		RunE: a.run(func(cmd *cobra.Command) error {
			token, err := a.client.RefreshToken(cmd.Context())
			if err != nil {
				return err
			}
			if showToken {
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token refreshed")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&showToken, "show-token", false, "print the new token")
	return cmd
}

func startReceiver(redirectURI string, a *app) (*callback.Receiver, error) {
	r, err := callback.FromRedirectURI(redirectURI, callback.WithLogger(authclient.NewLogrusLogger(a.logger)))
	if err != nil {
		return nil, err
	}
	if _, err := r.Start(); err != nil {
		return nil, err
	}
	return r, nil
}

func shutdownReceiver(r *callback.Receiver) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = r.Shutdown(ctx)
}
