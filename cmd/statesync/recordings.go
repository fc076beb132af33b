package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/annel0/statesync/internal/events"
	"github.com/annel0/statesync/internal/replay"
	"github.com/annel0/statesync/internal/timeline"
)

var errNoStore = errors.New("хранилище записей не настроено (replay.store=none)")

type recordingsOptions struct {
	*rootOptions
	JSON     bool
	Interval time.Duration
}

func newRecordingsCommand(root *rootOptions) *cobra.Command {
	opts := &recordingsOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "Сохранённые записи: список, просмотр, воспроизведение",
	}
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "вывод в JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Список записей",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, store replay.Store) error {
				list, err := store.List(ctx)
				if err != nil {
					return err
				}
				return printSummaries(cmd.OutOrStdout(), list, opts.JSON)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Кадры записи",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecording(cmd.Context(), opts, args[0], func(ctx context.Context, rec *replay.Recording) error {
				return printRecording(cmd.OutOrStdout(), rec, opts.JSON)
			})
		},
	})

	play := &cobra.Command{
		Use:   "play <id>",
		Short: "Воспроизвести запись в консоль",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecording(cmd.Context(), opts, args[0], func(ctx context.Context, rec *replay.Recording) error {
				sctx, cancel := signalContext()
				defer cancel()
				return playRecording(sctx, cmd.OutOrStdout(), rec, opts.Interval)
			})
		},
	}
	play.Flags().DurationVar(&opts.Interval, "interval", replay.DefaultInterval, "пауза между кадрами")
	cmd.AddCommand(play)
	return cmd
}

func withStore(ctx context.Context, opts *recordingsOptions, fn func(context.Context, replay.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openReplayStore(ctx, opts.cfg.Replay)
	if err != nil {
		return err
	}
	if store == nil {
		return errNoStore
	}
	defer store.Close()
	return fn(ctx, store)
}

func withRecording(ctx context.Context, opts *recordingsOptions, rawID string, fn func(context.Context, *replay.Recording) error) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("неверный id записи %q: %w", rawID, err)
	}
	return withStore(ctx, opts, func(ctx context.Context, store replay.Store) error {
		rec, err := store.Load(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, rec)
	})
}

func printSummaries(w io.Writer, list []replay.Summary, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(list)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tСОЗДАНА\tКАДРОВ\tСОБЫТИЙ")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", s.ID, s.CreatedAt.Format(time.RFC3339), s.Frames, s.Events)
	}
	return tw.Flush()
}

func printRecording(w io.Writer, rec *replay.Recording, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(rec)
	}
	s := rec.Summary()
	fmt.Fprintf(w, "Запись %s от %s: кадров %d, событий %d, длительность кадра %d\n",
		s.ID, s.CreatedAt.Format(time.RFC3339), s.Frames, s.Events, rec.FrameDuration)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "КАДР\tСНИМКОВ\tСУЩНОСТИ")
	for _, f := range rec.Frames {
		ids := make([]int64, 0, len(f.Snapshots))
		for _, e := range f.Snapshots {
			ids = append(ids, int64(e.ID))
		}
		fmt.Fprintf(tw, "%d\t%d\t%v\n", f.Index, len(f.Snapshots), ids)
	}
	return tw.Flush()
}

// printRaiser печатает воспроизводимые снимки вместо постановки в очередь
type printRaiser struct {
	w io.Writer
}

func (p printRaiser) Raise(ev events.Event) {
	r, ok := ev.AsReplay()
	if !ok {
		return
	}
	e := r.Snapshot
	fmt.Fprintf(p.w, "кадр %d: сущность %d (%.1f, %.1f) v=(%.1f, %.1f) %s\n",
		r.Frame, e.ID, e.Position.X, e.Position.Y, e.Velocity.X, e.Velocity.Y, e.Type)
}

func (p printRaiser) RaiseWithDelay(ev events.Event, _ int64) { p.Raise(ev) }

func playRecording(ctx context.Context, w io.Writer, rec *replay.Recording, interval time.Duration) error {
	sys := replay.NewSystem(timeline.New(), replay.WithInterval(interval), replay.WithFrameDuration(rec.FrameDuration))
	p, err := sys.Play(ctx, rec, printRaiser{w: w})
	if err != nil {
		return err
	}
	p.Wait()
	fmt.Fprintf(w, "Воспроизведено событий: %d\n", p.Delivered())
	return nil
}
