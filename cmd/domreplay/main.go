// Command domreplay records live pages as replayable sessions and serves
// the recordings.
//
// Usage:
//
//	domreplay -url https://example.com            # record until interrupted
//	domreplay -config domreplay.yaml              # record the configured page
//	domreplay -serve -config domreplay.yaml       # HTTP + MCP replay server
//	domreplay -replay session.jsonl               # print replayed contexts as HTML
//	domreplay -replay session.jsonl -view         # replay into Chrome tabs
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domreplay/dbopen"
	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/hooks"
	"github.com/hazyhaar/domreplay/idgen"
	"github.com/hazyhaar/domreplay/internal/browser"
	"github.com/hazyhaar/domreplay/internal/config"
	"github.com/hazyhaar/domreplay/internal/server"
	"github.com/hazyhaar/domreplay/internal/sink"
	"github.com/hazyhaar/domreplay/internal/store"
	"github.com/hazyhaar/domreplay/internal/transmit"
	"github.com/hazyhaar/domreplay/recorder"
	"github.com/hazyhaar/domreplay/replay"
)

func main() {
	configPath := flag.String("config", "", "path to domreplay.yaml config file")
	pageURL := flag.String("url", "", "record a single URL")
	replayPath := flag.String("replay", "", "replay a JSON lines recording")
	view := flag.Bool("view", false, "with -replay: replay into Chrome instead of printing HTML")
	serve := flag.Bool("serve", false, "run the replay server")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("domreplay: fatal", "error", err)
		os.Exit(1)
	}
	if *pageURL != "" {
		cfg.Recording.URL = *pageURL
	}

	switch {
	case *serve:
		err = runServer(ctx, logger, cfg)
	case *replayPath != "":
		err = runReplay(ctx, logger, cfg, *replayPath, *view)
	case cfg.Recording.URL != "":
		err = runRecord(ctx, logger, cfg)
	default:
		fmt.Fprintln(os.Stderr, "usage: domreplay -url <url> | -config <file> [-serve] | -replay <file> [-view]")
		os.Exit(2)
	}
	if err != nil {
		logger.Error("domreplay: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Store.Path, dbopen.WithBusyTimeout(int(cfg.Store.BusyTimeout/time.Millisecond)))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func browserConfig(cfg *config.Config, logger *slog.Logger) browser.Config {
	return browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Mode:             browser.ParseMode(cfg.Browser.Mode),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		NavigateTimeout:  cfg.Browser.NavigateTimeout,
		Logger:           logger,
	}
}

func runRecord(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	session := cfg.Recording.Session
	if session == "" {
		session = idgen.Session()
	}

	mgr := browser.NewManager(browserConfig(cfg, logger))
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Close()

	tab, err := mgr.Open(ctx, cfg.Recording.URL)
	if err != nil {
		return err
	}
	page, err := browser.Attach(ctx, tab, browser.WithPageLogger(logger))
	if err != nil {
		return err
	}
	defer page.Close()

	opts := []recorder.Option{
		recorder.WithStorage(st.ForSession(session)),
		recorder.WithWrite(cfg.Recording.WriteEnabled()),
		recorder.WithSkipClear(cfg.Recording.SkipClear),
		recorder.WithVisibilityPolicy(recorder.PolicyByName(cfg.Recording.Visibility)),
		recorder.WithMode(cfg.Recording.Mode),
		recorder.WithLogger(logger),
		recorder.WithPlugins(statsPlugin(logger, session)),
	}

	var sinks []sink.Sink
	for _, sc := range cfg.Sinks {
		if sc.Type == "stdout" {
			sinks = append(sinks, sink.NewStdout(nil, session))
		}
	}
	if len(sinks) > 0 {
		router := sink.NewRouter(logger, sinks...)
		defer router.Close()
		opts = append(opts, recorder.WithConsumer(sink.Consumer(ctx, router, logger)))
	}

	var tr *transmit.Transmitter
	if cfg.Transmit.Endpoint != "" {
		tr = transmit.New(cfg.Transmit.Endpoint, session,
			transmit.WithBatchSize(cfg.Transmit.BatchSize),
			transmit.WithInterval(cfg.Transmit.Interval),
			transmit.WithRetries(cfg.Transmit.Retries),
			transmit.WithClient(&http.Client{Timeout: cfg.Transmit.Timeout}),
			transmit.WithLogger(logger),
		)
		opts = append(opts, recorder.WithTransmitter(tr))
	}

	rec := recorder.New(page.Context(), opts...)
	if err := rec.Start(ctx); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	logger.Info("domreplay: recording", "session", session, "url", cfg.Recording.URL)

	<-ctx.Done()
	rec.Stop(context.Background())
	rec.Unsubscribe()

	if tr != nil {
		tr.Close()
		if n := tr.Dropped() + tr.Failed(); n > 0 {
			logger.Warn("domreplay: records not uploaded", "dropped", tr.Dropped(), "failed", tr.Failed())
		}
	}
	logger.Info("domreplay: recording stopped", "session", session)
	return nil
}

// statsPlugin logs how many records of each type a recording produced.
func statsPlugin(logger *slog.Logger, session string) hooks.Plugin {
	return hooks.PluginFunc(func(r *hooks.Registry) {
		var mu sync.Mutex
		counts := make(map[event.RecordType]int)
		r.OnEmit(func(_ context.Context, rec event.RecordData) error {
			mu.Lock()
			counts[rec.Type]++
			mu.Unlock()
			return nil
		})
		r.OnEnd(func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			attrs := []any{"session", session}
			for t, n := range counts {
				attrs = append(attrs, string(t), n)
			}
			logger.Info("domreplay: contexts terminated", attrs...)
			return nil
		})
	})
}

func runServer(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	s := server.New(st, server.WithLogger(logger))
	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "domreplay", Version: "0.1.0"}, nil)
	s.RegisterMCP(mcpSrv)

	r := chi.NewRouter()
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	r.Mount("/", s.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("domreplay: server starting", "addr", cfg.Server.Addr, "store", cfg.Store.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("domreplay: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runReplay(ctx context.Context, logger *slog.Logger, cfg *config.Config, path string, view bool) error {
	recs, err := readRecording(path)
	if err != nil {
		return err
	}

	factory := replay.MemoryFactory
	if view {
		mgr := browser.NewManager(browserConfig(cfg, logger))
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
		defer mgr.Close()
		factory = browser.SurfaceFactory(mgr)
	}

	player := replay.NewPlayer(factory, replay.WithLogger(logger))
	if err := player.Play(recs); err != nil {
		logger.Warn("domreplay: replay incomplete", "error", err)
	}

	if view {
		logger.Info("domreplay: replaying in browser", "contexts", len(player.Contexts()))
		<-ctx.Done()
		return nil
	}

	for _, id := range player.Contexts() {
		c, _ := player.Container(id)
		ms, ok := c.Surface().(*replay.MemorySurface)
		if !ok {
			continue
		}
		out, err := ms.Render()
		if err != nil {
			return fmt.Errorf("render %s: %w", id, err)
		}
		fmt.Fprintf(os.Stdout, "<!-- context %s href=%s terminated=%t -->\n%s\n", id, c.Head().Href, c.Terminated(), out)
	}
	return nil
}

// readRecording reads the JSON lines written by the stdout sink.
func readRecording(path string) ([]event.RecordData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	return decodeLines(f)
}

func decodeLines(r io.Reader) ([]event.RecordData, error) {
	var recs []event.RecordData
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		_, rec, err := sink.DecodeLine(sc.Bytes())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, rec)
	}
	return recs, sc.Err()
}
