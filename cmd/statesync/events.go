package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/annel0/statesync/internal/eventbus"
	"github.com/annel0/statesync/internal/sessionlog"
)

type eventsOptions struct {
	*rootOptions
	Kinds string
	Limit int
	JSON  bool
}

func newEventsCommand(root *rootOptions) *cobra.Command {
	opts := &eventsOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Уведомления сессий: поток из шины и журнал",
	}
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "вывод в JSON")

	tail := &cobra.Command{
		Use:   "tail",
		Short: "Печатать уведомления из шины событий (как tail -f)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return tailEvents(ctx, cmd.OutOrStdout(), opts)
		},
	}
	tail.Flags().StringVar(&opts.Kinds, "kinds", "", "типы через запятую (по умолчанию все)")
	cmd.AddCommand(tail)

	recent := &cobra.Command{
		Use:   "recent",
		Short: "Последние записи журнала сессий",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return recentEvents(ctx, cmd.OutOrStdout(), opts)
		},
	}
	recent.Flags().IntVar(&opts.Limit, "limit", 20, "сколько записей показать")
	cmd.AddCommand(recent)
	return cmd
}

func parseKinds(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func tailEvents(ctx context.Context, w io.Writer, opts *eventsOptions) error {
	if opts.cfg.EventBus.Kind != "jetstream" {
		return errors.New("tail читает только eventbus.kind=jetstream")
	}
	bus, err := openBus(opts.cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	enc := json.NewEncoder(w)
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: parseKinds(opts.Kinds)}, func(_ context.Context, ev *eventbus.Envelope) {
		n, err := eventbus.DecodeNotice(ev)
		if err != nil {
			fmt.Fprintf(w, "%s %s от %s (%d байт)\n", ev.Timestamp.Format(time.RFC3339), ev.EventType, ev.Source, len(ev.Payload))
			return
		}
		entry := sessionlog.Entry{ID: ev.ID, Source: ev.Source, Notice: n}
		if opts.JSON {
			_ = enc.Encode(entry)
			return
		}
		fmt.Fprintln(w, formatEntry(entry))
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	<-ctx.Done()
	return nil
}

func recentEvents(ctx context.Context, w io.Writer, opts *eventsOptions) error {
	repo, err := openSessionRepo(ctx, opts.cfg.SessionLog)
	if err != nil {
		return err
	}
	if repo == nil {
		return errors.New("журнал сессий не настроен (sessionlog.kind=none)")
	}
	defer repo.Close()

	entries, err := repo.Recent(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if opts.JSON {
		return json.NewEncoder(w).Encode(entries)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintln(tw, formatEntry(e))
	}
	return tw.Flush()
}

func formatEntry(e sessionlog.Entry) string {
	line := fmt.Sprintf("%s\t%s\t%s\tучастник=%d\tсущность=%d", e.At.Format(time.RFC3339), e.Source, e.Kind, e.ParticipantID, e.EntityID)
	if e.Reason != "" {
		line += "\tпричина=" + e.Reason
	}
	if e.RecordingID != "" {
		line += "\tзапись=" + e.RecordingID
	}
	return line
}
