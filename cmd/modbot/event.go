package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"modbot/internal/app"
	"modbot/internal/clock"
	"modbot/internal/events"

	"github.com/spf13/cobra"
)

func eventCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "event",
		Aliases: []string{"ev"},
		Short:   "Inspect, create and cancel events",
	}
	cmd.AddCommand(eventStatusCommand(), eventCreateCommand(), eventCancelCommand())
	return cmd
}

func eventStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a new event can be scheduled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Scheduler().CanSchedule(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), events.RenderStatus(st, a.Clock().Now()))
				return nil
			})
		},
	}
}

func eventCreateCommand() *cobra.Command {
	var (
		name, creator, at string
		participants      []string
		hour, minute      int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event (time via --at, or --hour/--minute for today)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if _, err := a.Scheduler().Propose(ctx, name, creator, participants); err != nil {
					return err
				}
				now := a.Clock().Now()
				var (
					chosen time.Time
					err    error
				)
				switch {
				case strings.TrimSpace(at) != "":
					chosen, err = clock.Parse(at, a.Clock().Location())
				case hour >= 0:
					chosen, err = events.ChooseTime(now, hour, minute)
				default:
					err = errors.New("either --at or --hour is required")
				}
				if err != nil {
					return err
				}
				res, err := a.Scheduler().Confirm(ctx, name, creator, participants, chosen)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created event %s %q at %s (creator total %d)\n",
					res.Event.ID, res.Event.Name, clock.Display(res.Event.ScheduledAt), res.CreatorTotal)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "event name")
	cmd.Flags().StringVar(&creator, "creator", "", "creator id")
	cmd.Flags().StringSliceVarP(&participants, "participants", "p", nil, "participant ids (comma separated)")
	cmd.Flags().StringVar(&at, "at", "", "scheduled time, RFC3339")
	cmd.Flags().IntVar(&hour, "hour", -1, "hour today (0-23)")
	cmd.Flags().IntVar(&minute, "minute", 0, "minute, a multiple of 5")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("creator")
	return cmd
}

func eventCancelCommand() *cobra.Command {
	var (
		actor      string
		privileged bool
	)
	cmd := &cobra.Command{
		Use:   "cancel <event-id>",
		Short: "Cancel an active event within the cancel window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Scheduler().Cancel(ctx, args[0], actor, privileged)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled event %s %q\n", res.Event.ID, res.Event.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "id of the member cancelling")
	cmd.Flags().BoolVar(&privileged, "privileged", false, "actor holds the moderator role")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
