package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"modbot/internal/app"
	"modbot/internal/clock"
	"modbot/internal/errs"
	"modbot/internal/stats"

	"github.com/spf13/cobra"
)

func statsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Import, link and show staff activity stats",
	}
	cmd.AddCommand(statsImportCommand(), statsEnrollCommand(), statsLinkCommand(), statsShowCommand())
	return cmd
}

func statsImportCommand() *cobra.Command {
	var file, importer string
	cmd := &cobra.Command{
		Use:   "import [report text]",
		Short: `Import "Name | #static | H ч. M м. | reports" lines`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := reportText(cmd, args, file)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Stats().Import(ctx, text, importer)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "imported %d lines: %s\n", len(res.Updated), strings.Join(res.Updated, ", "))
				for _, l := range res.Skipped {
					fmt.Fprintf(out, "skipped: %s\n", l)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `read the report from a file ("-" for stdin)`)
	cmd.Flags().StringVar(&importer, "importer", "", "id of the staff member importing")
	_ = cmd.MarkFlagRequired("importer")
	return cmd
}

func reportText(cmd *cobra.Command, args []string, file string) (string, error) {
	const op = "stats.import"
	switch {
	case len(args) == 1 && file != "":
		return "", errs.E(op, errs.ErrValidation, "pass the report as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	case file != "":
		b, err := os.ReadFile(file)
		return string(b), err
	default:
		return "", errs.E(op, errs.ErrValidation, "report text is required")
	}
}

func statsEnrollCommand() *cobra.Command {
	var user, nick string
	cmd := &cobra.Command{
		Use:   "enroll <static-id>",
		Short: "Put a staff member on the roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Stats().Enroll(ctx, args[0], user, nick); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enrolled #%s as %s\n", args[0], user)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "chat account id")
	cmd.Flags().StringVar(&nick, "nick", "", "in-game nickname")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func statsLinkCommand() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "link <static-id>",
		Short: "Link a static id's stats to the account the roster pairs it with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Stats().Link(ctx, args[0], user); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "linked #%s to %s\n", args[0], user)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "chat account id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func statsShowCommand() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "show <account-id>",
		Short: "Show totals and recent activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var from time.Time
				if since != "" {
					t, err := clock.Parse(since, a.Clock().Location())
					if err != nil {
						return errs.Wrap("stats.show", errs.ErrValidation, err)
					}
					from = t
				}
				s, err := a.Stats().Summary(ctx, args[0], from)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), stats.RenderSummary(s))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "window start, RFC3339 (default: the configured window)")
	return cmd
}
