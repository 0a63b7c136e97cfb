package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/jobboard/jobboard/internal/api"
	"github.com/jobboard/jobboard/internal/apply"
	"github.com/jobboard/jobboard/internal/board"
	"github.com/jobboard/jobboard/internal/config"
	"github.com/jobboard/jobboard/internal/job"
	"github.com/jobboard/jobboard/internal/journal"
	"github.com/jobboard/jobboard/internal/notion"
	"github.com/jobboard/jobboard/internal/portal"
	"github.com/jobboard/jobboard/internal/refresh"
	"github.com/jobboard/jobboard/internal/ws"
)

type options struct {
	configPath string
	watchURL   string
	seedPath   string
	issueToken string
	role       string
	tokenTTL   time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("jobboard", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flagSet.StringVar(&opts.watchURL, "watch", "", "connect to a board feed (ws://host/ws/jobs) and log its views")
	flagSet.StringVar(&opts.seedPath, "seed", "", "import a JSON snapshot into the local catalog before serving")
	flagSet.StringVar(&opts.issueToken, "issue-token", "", "print a signed token for this applicant id and exit")
	flagSet.StringVar(&opts.role, "role", api.RoleApplicant, "role of the issued token (applicant or admin)")
	flagSet.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the issued token")
	flagSet.Usage = func() { printHelp(flagSet) }

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case opts.issueToken != "":
		tok, err := api.IssueToken(cfg.JWTSecret, opts.issueToken, opts.role, opts.tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	case opts.watchURL != "":
		return runWatcher(ctx, opts.watchURL, logger)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return runServer(ctx, cfg, opts.seedPath, logger)
}

func runWatcher(ctx context.Context, url string, logger *slog.Logger) error {
	logger.Info("watching board feed", "url", url)

	c := ws.NewClient(url, logger)
	c.OnHello = func(m ws.HelloMessage) {
		logger.Info("connected", "client_id", m.ClientID, "tags", m.Tags)
	}
	c.OnView = func(m ws.ViewMessage) {
		logger.Info("view", "version", m.Version, "visible", len(m.Jobs), "total", m.Total, "query", m.Spec.SearchQuery)
	}

	err := c.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("watcher stopped")
	return err
}

func runServer(ctx context.Context, cfg *config.Config, seedPath string, logger *slog.Logger) error {
	logger.Info("starting jobboard", "portal", cfg.Portal.Mode, "addr", cfg.Addr())

	store := job.NewStore()

	var (
		observers []func(apply.Event)
		bg        sync.WaitGroup
		jrnl      *journal.Journal
	)
	if cfg.JournalEnabled() {
		var err error
		jrnl, err = journal.Open(ctx, cfg.JournalPath, logger)
		if err != nil {
			return err
		}
		defer jrnl.Close()
		observers = append(observers, jrnl.Observe)
	}

	if cfg.NotionEnabled() {
		nc := notion.New(cfg.Notion.Token, cfg.Notion.DatabaseID, nil)
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := nc.Ping(pingCtx); err != nil {
			logger.Warn("notion database unreachable, pages may fail", "error", err)
		}
		cancel()

		pages := notion.NewSync(nc, store, logger)
		observers = append(observers, pages.Observe)
		bg.Add(1)
		go func() {
			defer bg.Done()
			pages.Run(ctx)
		}()
	}

	tracker := apply.NewTracker(store, logger, apply.WithEvents(func(ev apply.Event) {
		for _, fn := range observers {
			fn(ev)
		}
	}))
	b := board.New(store, tracker, logger)
	defer b.Close()

	p, err := openPortal(ctx, cfg, seedPath, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	poller := refresh.New(p, b, cfg.RefreshInterval, logger)
	feed := ws.NewServer(b, cfg.QuickTags, logger)

	deps := api.Deps{
		Config:  cfg,
		Board:   b,
		Tracker: tracker,
		Portal:  p,
		Poller:  poller,
		Feed:    feed,
		Logger:  logger,
	}
	if jrnl != nil {
		deps.Journal = jrnl
	}
	if cat, ok := p.(*portal.Catalog); ok {
		deps.Catalog = cat
		deps.Recorder = cat
	}
	router, err := api.NewRouter(deps)
	if err != nil {
		return err
	}

	bg.Add(1)
	go func() {
		defer bg.Done()
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poller stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	logger.Info("shutting down")

	feed.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	bg.Wait()

	logger.Info("server stopped")
	return nil
}

// openPortal returns the remote portal client or the local catalog,
// importing seedPath into the catalog when given.
func openPortal(ctx context.Context, cfg *config.Config, seedPath string, logger *slog.Logger) (portal.Portal, error) {
	if cfg.Portal.Mode == config.PortalRemote {
		if seedPath != "" {
			logger.Warn("--seed is ignored in remote portal mode")
		}
		c, err := portal.NewClient(cfg.Portal.BaseURL, portal.ClientOptions{
			Timeout:           cfg.Portal.Timeout,
			RequestsPerSecond: cfg.Portal.RequestsPerSecond,
			Token:             cfg.Portal.Token,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	cat, err := portal.OpenCatalog(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	if seedPath == "" {
		seedPath = cfg.Portal.Seed
	}
	if seedPath != "" {
		if err := seedCatalog(ctx, cat, seedPath); err != nil {
			cat.Close()
			return nil, err
		}
	}
	return cat, nil
}

func seedCatalog(ctx context.Context, cat *portal.Catalog, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed struct {
		Jobs []job.Job `json:"jobs"`
	}
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("decode seed %s: %w", path, err)
	}
	n, err := cat.Import(ctx, seed.Jobs)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	slog.Info("catalog seeded", "path", path, "jobs", n)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "jobboard - job search, filtering and application tracking\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  jobboard [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Modes:\n")
	fmt.Fprintf(os.Stderr, "  Server (default): serve the board API and feed\n")
	fmt.Fprintf(os.Stderr, "  Watch: connect to a running board and log its views\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flagSet.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  jobboard --config jobboard.yaml\n")
	fmt.Fprintf(os.Stderr, "  jobboard --seed jobs.json\n")
	fmt.Fprintf(os.Stderr, "  jobboard --watch ws://localhost:8000/ws/jobs\n")
	fmt.Fprintf(os.Stderr, "  jobboard --issue-token ada --role admin\n")
}
