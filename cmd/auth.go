package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/jarvis/internal/gmail"
	"github.com/teemow/jarvis/internal/google"
	"github.com/teemow/jarvis/internal/tokenstore"
)

const scopePrefix = "https://www.googleapis.com/auth/"

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored Google credentials",
		Long: `Authorize jarvis against a Google account and inspect or remove the
stored token. Tokens are kept per account in the configured token store.`,
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthRefreshCmd())
	cmd.AddCommand(newAuthRevokeCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthImportCmd())
	cmd.AddCommand(newAuthTestCmd())
	cmd.AddCommand(newAuthKeygenCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var scopes []string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize jarvis in the browser",
		Long: `Start the OAuth consent flow unless the stored token already covers the
requested scopes. Scopes may be given as full URLs or short names such as
gmail.readonly. Without --scope all scopes the assistant uses are requested.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			required := parseScopeNames(scopes)
			return run(cmd.Context(), appOptions{interactive: true}, func(ctx context.Context, a *app) error {
				if _, err := a.manager.Acquire(ctx, required); err != nil {
					return err
				}
				st, err := a.manager.Status(ctx)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scope to request, repeatable (default: all assistant scopes)")
	return cmd
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored token without contacting Google",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), appOptions{}, func(ctx context.Context, a *app) error {
				st, err := a.manager.Status(ctx)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), appOptions{}, func(ctx context.Context, a *app) error {
				st, err := a.manager.ForceRefresh(ctx)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

func newAuthRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the grant at Google and delete the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), appOptions{}, func(ctx context.Context, a *app) error {
				if err := a.manager.Revoke(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Revoked Google access for account %q\n", a.manager.Account())
				return nil
			})
		},
	}
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored token without revoking it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), appOptions{}, func(ctx context.Context, a *app) error {
				if err := a.manager.Invalidate(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed stored token for account %q\n", a.manager.Account())
				return nil
			})
		},
	}
}

func newAuthImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <token.json>",
		Short: "Import a token.json written by google-auth",
		Long: `Import an authorized-user token.json as produced by the Python google-auth
library. The token keeps the client id it was issued to; a token from another
OAuth client is stored but triggers consent on first use.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := tokenstore.ReadLegacyToken(args[0])
			if err != nil {
				return err
			}
			return run(cmd.Context(), appOptions{}, func(ctx context.Context, a *app) error {
				st, err := a.manager.Import(ctx, rec)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

func newAuthTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Call the Gmail API with the stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), appOptions{interactive: true}, func(ctx context.Context, a *app) error {
				client := gmail.NewClient(a.manager, gmail.WithMetrics(a.provider.Metrics()))
				profile, err := client.Profile(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Authorized as %s (%d messages)\n", profile.EmailAddress, profile.MessagesTotal)
				return nil
			})
		},
	}
}

func newAuthKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a token encryption key",
		Long: `Print a random base64 encoded 32-byte key for JARVIS_TOKEN_ENCRYPTION_KEY
or token_store.encryption_key. Changing the key makes existing tokens
unreadable, so log in again afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := tokenstore.GenerateKey()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

// parseScopeNames expands short scope names. Empty input yields the
// default scopes.
func parseScopeNames(names []string) google.ScopeSet {
	var scopes []string
	for _, n := range names {
		for _, s := range strings.Fields(strings.ReplaceAll(n, ",", " ")) {
			if !strings.HasPrefix(s, "https://") {
				s = scopePrefix + s
			}
			scopes = append(scopes, s)
		}
	}
	if len(scopes) == 0 {
		return google.DefaultScopes
	}
	return google.NewScopeSet(scopes...)
}

func printStatus(w io.Writer, st *google.TokenStatus) {
	if !st.Present {
		_, _ = fmt.Fprintf(w, "Account %q: not authorized. Run 'jarvis auth login'.\n", st.Account)
		return
	}

	_, _ = fmt.Fprintf(w, "Account:       %s\n", st.Account)
	_, _ = fmt.Fprintf(w, "Scopes:        %s\n", strings.Join(st.Scopes.ShortNames(), ", "))
	switch {
	case st.Expiry.IsZero():
		_, _ = fmt.Fprintf(w, "Expires:       never\n")
	case st.Expired:
		_, _ = fmt.Fprintf(w, "Expires:       %s (expired)\n", st.Expiry.Local().Format(time.RFC1123))
	default:
		_, _ = fmt.Fprintf(w, "Expires:       %s\n", st.Expiry.Local().Format(time.RFC1123))
	}
	_, _ = fmt.Fprintf(w, "Refresh token: %s\n", yesNo(st.HasRefreshToken))
	if !st.ClientMatches {
		_, _ = fmt.Fprintf(w, "Warning:       token was issued to a different OAuth client\n")
	}
	if !st.UpdatedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "Updated:       %s\n", st.UpdatedAt.Local().Format(time.RFC1123))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
