package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/loykin/companion"
	"github.com/loykin/companion/internal/history"
	"github.com/loykin/companion/internal/history/factory"
	"github.com/loykin/companion/internal/logger"
)

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(g GlobalFlags) (companion.Config, error) {
	c, err := companion.LoadConfig(g.ConfigPath)
	if err != nil {
		return c, fmt.Errorf("error loading config: %w", err)
	}
	if g.RecordsPath != "" {
		c.Records = g.RecordsPath
	}
	return c, nil
}

// runLauncher drives one host session until ctx is cancelled or the process
// receives SIGINT/SIGTERM.
func runLauncher(ctx context.Context, g GlobalFlags, f RunFlags, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := loadConfig(g)
	if err != nil {
		return err
	}
	if f.Listen != "" {
		c.Server.Listen = f.Listen
	}
	if f.BasePath != "" {
		c.Server.BasePath = f.BasePath
	}
	if f.Metrics {
		c.Metrics.Enabled = true
	}

	log, logCloser, err := logger.New(c.Log, stderr)
	if err != nil {
		return fmt.Errorf("error configuring logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)

	if c.Metrics.Enabled {
		if err := companion.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("error registering metrics: %w", err)
		}
	}

	l, err := companion.FromConfig(c, log)
	if err != nil {
		return fmt.Errorf("error creating launcher: %w", err)
	}
	defer func() { _ = l.Close() }()

	var srv *http.Server
	if c.Server.Listen != "" {
		srv, err = companion.NewHTTPServer(c.Server.Listen, c.Server.BasePath, l, c.Metrics.Enabled)
		if err != nil {
			return fmt.Errorf("error starting HTTP server: %w", err)
		}
		log.Info("http api listening", "addr", srv.Addr, "base_path", c.Server.BasePath)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	l.HandleEvent(companion.EventAfterStartupComplete)
	<-ctx.Done()
	log.Info("exit requested, stopping companion processes")
	l.HandleEvent(companion.EventBeforeProcessExit)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

func recordsList(g GlobalFlags, f ListFlags, out io.Writer) error {
	ed, err := openEditor(g)
	if err != nil {
		return err
	}
	defer func() { _ = ed.Close() }()
	recs, err := ed.Records()
	if err != nil {
		return err
	}
	if f.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(companion.Document{Executables: recs})
	}
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(out, "no launch records")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "INDEX\tPATH\tSHUTDOWN\tMINIMIZED")
	for i, r := range recs {
		path := r.Path
		if !r.Actionable() {
			path = "(empty, skipped)"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%t\t%t\n", i, path, r.ShutdownEnabled, r.StartMinimized)
	}
	return tw.Flush()
}

func recordsAdd(g GlobalFlags, f AddFlags, out io.Writer) error {
	ed, err := openEditor(g)
	if err != nil {
		return err
	}
	defer func() { _ = ed.Close() }()
	recs, err := ed.Records()
	if err != nil {
		return err
	}
	recs = append(recs, companion.Record{
		Path:            f.Path,
		ShutdownEnabled: f.Shutdown,
		StartMinimized:  f.Minimized,
	})
	if err := replace(ed, recs, out); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "added record %d to %s\n", len(recs)-1, ed.Where())
	return nil
}

func recordsRemove(g GlobalFlags, f RemoveFlags, out io.Writer) error {
	ed, err := openEditor(g)
	if err != nil {
		return err
	}
	defer func() { _ = ed.Close() }()
	recs, err := ed.Records()
	if err != nil {
		return err
	}
	if f.Index < 0 || f.Index >= len(recs) {
		return fmt.Errorf("index %d out of range (have %d records)", f.Index, len(recs))
	}
	recs = append(recs[:f.Index], recs[f.Index+1:]...)
	if err := replace(ed, recs, out); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "removed record %d from %s\n", f.Index, ed.Where())
	return nil
}

func recordsClear(g GlobalFlags, out io.Writer) error {
	ed, err := openEditor(g)
	if err != nil {
		return err
	}
	defer func() { _ = ed.Close() }()
	if err := replace(ed, nil, out); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "cleared records in %s\n", ed.Where())
	return nil
}

// replace writes recs through ed. A persist warning is printed, not returned:
// the running launcher already uses the new records.
func replace(ed recordEditor, recs []companion.Record, out io.Writer) error {
	warning, err := ed.Replace(recs)
	if err != nil {
		return err
	}
	if warning != "" {
		_, _ = fmt.Fprintf(out, "warning: %s\n", warning)
	}
	return nil
}

func showStatus(ctx context.Context, g GlobalFlags, out io.Writer) error {
	if g.APIUrl == "" {
		return errors.New("status requires --api-url of a running launcher")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ps, err := newAPIClient(g).Processes(ctx)
	if err != nil {
		return err
	}
	if len(ps) == 0 {
		_, _ = fmt.Fprintln(out, "no tracked processes")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PID\tALIVE\tSHUTDOWN\tSTARTED\tPATH")
	for _, p := range ps {
		_, _ = fmt.Fprintf(tw, "%d\t%t\t%t\t%s\t%s\n", p.PID, p.Alive, p.ShutdownEnabled,
			p.StartedAt.Local().Format(time.DateTime), p.Path)
	}
	return tw.Flush()
}

func showHistory(ctx context.Context, g GlobalFlags, f HistoryFlags, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dsn := f.DSN
	if dsn == "" {
		c, err := loadConfig(g)
		if err != nil {
			return err
		}
		if len(c.History.DSN) == 0 {
			return errors.New("no history sink configured (set history.dsn or pass --dsn)")
		}
		dsn = c.History.DSN[0]
	}
	sink, err := factory.NewSinkFromDSN(dsn)
	if err != nil {
		return err
	}
	defer factory.Close([]history.Sink{sink})

	if f.Session != "" {
		counter, ok := sink.(history.Counter)
		if !ok {
			return fmt.Errorf("history sink %T cannot count events", sink)
		}
		n, err := counter.Count(ctx, f.Session)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "session %s: %d events\n", f.Session, n)
		return nil
	}

	reader, ok := sink.(history.Reader)
	if !ok {
		return fmt.Errorf("history sink %T cannot list events; use --session to count them", sink)
	}
	events, err := reader.Recent(ctx, f.Limit)
	if err != nil {
		return err
	}
	if f.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}
	if len(events) == 0 {
		_, _ = fmt.Fprintln(out, "no history events")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tEVENT\tSESSION\tPID\tPATH\tERROR")
	for _, e := range events {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", e.OccurredAt.Local().Format(time.DateTime),
			e.Type, e.Session, e.Record.PID, e.Record.Path, e.Record.Error)
	}
	return tw.Flush()
}
