package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/punchkit/punchclock/internal/api"
	"github.com/punchkit/punchclock/internal/beeminder"
	"github.com/punchkit/punchclock/internal/config"
	"github.com/punchkit/punchclock/internal/events"
	"github.com/punchkit/punchclock/internal/labels"
	"github.com/punchkit/punchclock/internal/links"
	"github.com/punchkit/punchclock/internal/log"
	"github.com/punchkit/punchclock/internal/refresher"
	"github.com/punchkit/punchclock/internal/timer"
	"github.com/punchkit/punchclock/internal/todoist"
	"github.com/punchkit/punchclock/internal/tui/watch"
	"github.com/punchkit/punchclock/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := versionInfo{Version: version, Commit: gitCommit, BuildTime: buildDate}

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("punchclock %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (defaults + env when omitted)")
	envFile := fs.String("env-file", ".env", "Path to .env file with secrets")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	// Missing .env is fine; secrets may come from the real environment.
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load env file %s: %v\n", *envFile, err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("punchclock starting", "version", version, "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	linkStore, err := links.Open(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open link store", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer linkStore.Close()
	logger.Info("link store opened", "path", cfg.State.Path)

	store := timer.NewMemoryStore()
	engine := timer.NewEngine(store)
	hub := events.NewHub(256)

	tasks := todoist.New(cfg.Todoist.BaseURL, cfg.Todoist.APIToken, cfg.Todoist.Timeout)
	labelCache := labels.NewCache(tasks, labels.DefaultTTL, log.WithComponent("labels"))

	bm := beeminder.New(
		cfg.Beeminder.BaseURL,
		cfg.Beeminder.Username,
		cfg.Beeminder.AuthToken,
		cfg.Todoist.Timeout,
	)
	if bm.Enabled() {
		logger.Info("beeminder posting enabled", "user", cfg.Beeminder.Username, "default_goal", cfg.Beeminder.DefaultGoal)
	} else {
		logger.Info("beeminder posting disabled")
	}

	opts := webhook.DispatcherOptions{
		TriggerLabel: cfg.Todoist.TriggerLabel,
		DefaultGoal:  cfg.Beeminder.DefaultGoal,
	}
	if id, ok := cfg.TriggerLabelID(); ok {
		opts.TriggerLabelID = id
		opts.HasTriggerLabelID = true
	}

	dispatcher := webhook.NewDispatcher(
		engine,
		tasks,
		labelCache,
		bm,
		linkStore,
		hub,
		log.WithComponent("dispatch"),
		opts,
	)

	webhookServer := webhook.New(webhook.Config{
		Listen:          cfg.Webhook.Listen,
		Path:            cfg.Webhook.Path,
		Secret:          cfg.Todoist.ClientSecret,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		DeliveryHeader:  cfg.Webhook.DeliveryHeader,
		MaxBodySize:     cfg.Webhook.MaxBodySize,
	}, dispatcher, log.WithComponent("webhook"))

	refr := refresher.New(store, engine, tasks, hub, log.Get(), cfg.Refresh.Interval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return webhookServer.Start(gctx)
	})

	g.Go(func() error {
		if err := refr.Start(gctx); err != nil {
			return fmt.Errorf("refresher: %w", err)
		}
		<-gctx.Done()
		refr.Stop()
		return gctx.Err()
	})

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, store, engine, hub, log.WithComponent("api"))
		g.Go(func() error {
			return apiServer.Start(gctx)
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("punchclock running (press Ctrl+C to stop)")

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("component failed", "error", err)
		return 1
	}

	logger.Info("punchclock stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Admin API URL")
	apiKey := fs.String("api-key", os.Getenv("PUNCHCLOCK_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or PUNCHCLOCK_API_KEY env var.")
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Println("punchclock - Todoist time tracking via webhooks")
	fmt.Println()
	fmt.Println("Usage: punchclock <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  start      Run the webhook listener and timer refresh loop")
	fmt.Println("  watch      Live timer dashboard TUI (requires api.enabled)")
	fmt.Println("  version    Print version information")
	fmt.Println("  help       Show this help")
	fmt.Println()
	fmt.Println("start flags:")
	fmt.Println("  --config PATH      Configuration file (defaults + env when omitted)")
	fmt.Println("  --env-file PATH    .env file with secrets (default: .env)")
	fmt.Println()
	fmt.Println("watch flags:")
	fmt.Println("  --api-url URL    Admin API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or PUNCHCLOCK_API_KEY env var)")
}
