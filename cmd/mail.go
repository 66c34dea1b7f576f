package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/teemow/jarvis/internal/gmail"
)

const previewLength = 200

func newMailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Read and send Gmail messages",
	}

	cmd.AddCommand(newMailListCmd())
	cmd.AddCommand(newMailSearchCmd())
	cmd.AddCommand(newMailReadCmd())
	cmd.AddCommand(newMailSendCmd())
	return cmd
}

func (a *app) gmailClient() *gmail.Client {
	return gmail.NewClient(a.manager, gmail.WithMetrics(a.provider.Metrics()))
}

func newMailListCmd() *cobra.Command {
	var (
		query string
		max   int64
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent inbox messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), appOptions{interactive: true}, func(ctx context.Context, a *app) error {
				msgs, err := a.gmailClient().ListMessages(ctx, query, max)
				if err != nil {
					return err
				}
				printMessages(cmd.OutOrStdout(), msgs, true)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", gmail.DefaultQuery, "Gmail search query")
	cmd.Flags().Int64VarP(&max, "max", "n", gmail.DefaultMaxResults, "Maximum number of messages")
	return cmd
}

func newMailSearchCmd() *cobra.Command {
	var max int64

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search messages by Gmail query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), appOptions{interactive: true}, func(ctx context.Context, a *app) error {
				msgs, err := a.gmailClient().Search(ctx, args[0], max)
				if err != nil {
					return err
				}
				printMessages(cmd.OutOrStdout(), msgs, false)
				return nil
			})
		},
	}

	cmd.Flags().Int64VarP(&max, "max", "n", gmail.DefaultMaxResults, "Maximum number of messages")
	return cmd
}

func newMailReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <message-id>",
		Short: "Print a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), appOptions{interactive: true}, func(ctx context.Context, a *app) error {
				msg, err := a.gmailClient().GetMessage(ctx, args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(w, "From:    %s\nTo:      %s\nDate:    %s\nSubject: %s\n\n%s\n",
					msg.From, msg.To, msg.Date, msg.Subject, msg.Body)
				return nil
			})
		},
	}
}

func newMailSendCmd() *cobra.Command {
	var (
		to, cc, bcc   string
		subject, body string
		html          bool
		signature     bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an email",
		Long: `Send an email from the authorized account. Recipients are comma separated.
With --signature the Gmail signature of the primary address is appended.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := &gmail.EmailMessage{
				To:      parseCommaSeparatedList(to),
				Cc:      parseCommaSeparatedList(cc),
				Bcc:     parseCommaSeparatedList(bcc),
				Subject: subject,
				Body:    body,
				IsHTML:  html,
			}
			if err := msg.Validate(); err != nil {
				return err
			}

			return run(cmd.Context(), appOptions{interactive: true}, func(ctx context.Context, a *app) error {
				client := a.gmailClient()
				if signature {
					sig, err := client.Signature(ctx)
					if err != nil {
						return err
					}
					msg.Signature = sig
				}
				id, err := client.Send(ctx, msg)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s\n", id)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Recipients (comma separated)")
	cmd.Flags().StringVar(&cc, "cc", "", "CC recipients (comma separated)")
	cmd.Flags().StringVar(&bcc, "bcc", "", "BCC recipients (comma separated)")
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Subject line")
	cmd.Flags().StringVarP(&body, "body", "b", "", "Message body")
	cmd.Flags().BoolVar(&html, "html", false, "Send the body as HTML")
	cmd.Flags().BoolVar(&signature, "signature", false, "Append the Gmail signature")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func printMessages(w io.Writer, msgs []*gmail.Message, withPreview bool) {
	if len(msgs) == 0 {
		_, _ = fmt.Fprintln(w, "No messages found.")
		return
	}
	for i, m := range msgs {
		_, _ = fmt.Fprintf(w, "%d. %s\n   From: %s\n   Date: %s\n   ID:   %s\n", i+1, m.Subject, m.From, m.Date, m.ID)
		if withPreview {
			if p := m.Preview(previewLength); p != "" {
				_, _ = fmt.Fprintf(w, "   %s\n", p)
			}
		}
	}
}
