package main

import (
	"context"
	"fmt"

	"modbot/internal/app"
	"modbot/internal/reprimand"

	"github.com/spf13/cobra"
)

func reprimandCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reprimand",
		Aliases: []string{"rep"},
		Short:   "Issue, remove and list reprimands",
	}
	cmd.AddCommand(reprimandIssueCommand(), reprimandRemoveCommand(), reprimandListCommand())
	return cmd
}

func reprimandIssueCommand() *cobra.Command {
	var kind, reason, issuer string
	cmd := &cobra.Command{
		Use:   "issue <subject>",
		Short: "Issue a reprimand (a third active oral escalates to strict)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := reprimand.ParseKind(kind)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Ledger().Issue(ctx, args[0], k, reason, issuer)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.Escalated {
					fmt.Fprintf(out, "escalated: %s now holds a strict reprimand\n", res.Subject)
				} else {
					fmt.Fprintf(out, "issued %s reprimand #%d to %s\n", res.Issued.Kind, res.Issued.Index, res.Subject)
				}
				fmt.Fprintf(out, "active: %d oral, %d strict\n", res.ActiveOral, res.ActiveStrict)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(reprimand.KindOral), "oral or strict")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "reason shown to the subject")
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuing moderator id")
	_ = cmd.MarkFlagRequired("reason")
	_ = cmd.MarkFlagRequired("issuer")
	return cmd
}

func reprimandRemoveCommand() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "remove <subject>",
		Short: "Remove one reprimand, optionally of a given kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var k reprimand.Kind
			if kind != "" {
				parsed, err := reprimand.ParseKind(kind)
				if err != nil {
					return err
				}
				k = parsed
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Ledger().Remove(ctx, args[0], k)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s reprimand from %s\n", res.Removed.Kind, res.Subject)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "oral or strict; empty picks any")
	return cmd
}

func reprimandListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <subject>",
		Short: "List a subject's active reprimands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				list, err := a.Ledger().ListActive(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), reprimand.RenderList(args[0], list))
				return nil
			})
		},
	}
}
