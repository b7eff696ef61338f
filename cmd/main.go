package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"ctfhooks/internal/cache"
	"ctfhooks/internal/calendar"
	"ctfhooks/internal/config"
	"ctfhooks/internal/ctftime"
	"ctfhooks/internal/discord"
	"ctfhooks/internal/httpclient"
	"ctfhooks/internal/ics"
	"ctfhooks/internal/metrics"
	"ctfhooks/internal/syncer"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "ctfhooks",
		Usage: "Announce upcoming CTFtime events on Discord webhooks.",
		Commands: []*cli.Command{
			sendCommand(),
			handlerCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Fetch upcoming CTFs and post them to the given webhooks.",
		ArgsUsage: "[webhook url...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "webhooks", Aliases: []string{"w"}, Usage: "a discord webhook which the data will be sent to (repeatable)"},
			&cli.StringFlag{Name: "webhooks-file", Aliases: []string{"W"}, Usage: "a path to a file with discord webhooks (line separated)"},
			&cli.StringFlag{Name: "cache-file", Aliases: []string{"c"}, Usage: "a path to a file that will be used to cache sent entries"},
			&cli.IntFlag{Name: "max-entries", Aliases: []string{"m"}, Value: config.DefaultMaxEntries, Usage: "the maximum number of CTFs that will be sent"},
			&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Value: config.DefaultDays, Usage: "days from today to search CTFs within"},
			&cli.StringFlag{Name: "config", Usage: "a YAML file with settings; flags override it"},
			&cli.BoolFlag{Name: "no-weight", Usage: "leave weight and interested teams out of the cards"},
			&cli.BoolFlag{Name: "dry-run", Usage: "log the message instead of sending it"},
			&cli.DurationFlag{Name: "timeout", Value: config.DefaultTimeout, Usage: "timeout of each HTTP request"},
			&cli.StringFlag{Name: "api-url", Value: ctftime.DefaultEndpoint, Usage: "CTFtime events endpoint"},
			&cli.StringFlag{Name: "ics-file", Usage: "also write the events to this .ics file"},
			&cli.StringFlag{Name: "pushgateway", EnvVars: []string{"PUSHGATEWAY_URL"}, Usage: "push run metrics to this Prometheus Pushgateway"},
			&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}, Value: "info"},
			&cli.StringFlag{Name: "caldav-endpoint", EnvVars: []string{"CALDAV_ENDPOINT"}, Value: calendar.DefaultEndpoint},
			&cli.StringFlag{Name: "caldav-username", EnvVars: []string{"CALDAV_USERNAME"}},
			&cli.StringFlag{Name: "caldav-password", EnvVars: []string{"CALDAV_PASSWORD"}},
			&cli.StringFlag{Name: "caldav-calendar", EnvVars: []string{"CALDAV_CALENDAR"}, Usage: "mirror the events into the CalDAV calendar with this name"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := configFromFlags(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			return run(c.Context, logger, cfg, c.Bool("dry-run"))
		},
	}
}

func handlerCommand() *cli.Command {
	return &cli.Command{
		Name:  "handler",
		Usage: "Run once with DISCORD_WEBHOOK, MAX_CTFS and DAYS from the environment (no cache).",
		Action: func(c *cli.Context) error {
			cfg, err := config.FromEnv(os.Getenv)
			if err != nil {
				return fmt.Errorf("invalid environment: %w", err)
			}
			logger := setupLogger(cfg.LogLevel)
			return run(c.Context, logger, cfg, false)
		},
	}
}

// configFromFlags layers the command line over the optional config file.
func configFromFlags(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	listSet := c.IsSet("webhooks") || c.Args().Len() > 0
	fileSet := c.IsSet("webhooks-file")
	switch {
	case listSet && fileSet:
		return nil, fmt.Errorf("--webhooks and --webhooks-file are mutually exclusive")
	case listSet:
		cfg.Webhooks = append(c.StringSlice("webhooks"), c.Args().Slice()...)
		cfg.WebhooksFile = ""
	case fileSet:
		cfg.WebhooksFile = c.String("webhooks-file")
		cfg.Webhooks = nil
	}
	if c.IsSet("cache-file") {
		cfg.CacheFile = c.String("cache-file")
	}
	if c.IsSet("max-entries") {
		cfg.MaxEntries = c.Int("max-entries")
	}
	if c.IsSet("days") {
		cfg.Days = c.Int("days")
	}
	if c.IsSet("no-weight") {
		cfg.DisableWeightFields = c.Bool("no-weight")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if c.IsSet("api-url") {
		cfg.APIURL = c.String("api-url")
	}
	if c.IsSet("ics-file") {
		cfg.ICSFile = c.String("ics-file")
	}
	if c.IsSet("pushgateway") {
		cfg.Pushgateway = c.String("pushgateway")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("caldav-endpoint") || cfg.CalDAV.Endpoint == "" {
		cfg.CalDAV.Endpoint = c.String("caldav-endpoint")
	}
	if c.IsSet("caldav-username") {
		cfg.CalDAV.Username = c.String("caldav-username")
	}
	if c.IsSet("caldav-password") {
		cfg.CalDAV.Password = c.String("caldav-password")
	}
	if c.IsSet("caldav-calendar") {
		cfg.CalDAV.Calendar = c.String("caldav-calendar")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run wires the pipeline for one notification run.
func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, dryRun bool) error {
	if dryRun {
		logger.Info("Performing a dry run. Nothing will be sent.")
	}

	webhooks, err := cfg.ResolveWebhooks()
	if err != nil {
		return err
	}

	httpClient := httpclient.New(cfg.Timeout)
	var limiter *rate.Limiter
	if cfg.PostInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.PostInterval), 1)
	}
	source := ctftime.NewClient(httpClient, logger, cfg.APIURL)
	sender := discord.NewWebhookClient(httpClient, logger, limiter)
	collector := metrics.NewCollector()

	opts := syncer.Options{
		MaxEntries:          cfg.MaxEntries,
		Days:                cfg.Days,
		IncludeWeightFields: cfg.IncludeWeightFields(),
		DryRun:              dryRun,
		Metrics:             collector,
	}

	if cfg.EnableCache() {
		if !dryRun {
			if err := cache.Ensure(cfg.CacheFile); err != nil {
				return err
			}
		}
		opts.Cache = cache.New(cfg.CacheFile)
	}
	if cfg.ICSFile != "" {
		opts.Publishers = append(opts.Publishers, &ics.FileWriter{Path: cfg.ICSFile})
	}
	if cfg.CalDAV.Enabled() && !dryRun {
		cal, err := calendar.NewCalDAVClient(ctx, logger, httpClient,
			cfg.CalDAV.Endpoint, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.Calendar)
		if err != nil {
			logger.Error("CalDAV publishing disabled for this run", "error", err)
			collector.RecordPublish("caldav", err)
		} else {
			opts.Publishers = append(opts.Publishers, cal)
		}
	}

	s, err := syncer.NewSyncer(logger, source, sender, webhooks, opts)
	if err != nil {
		return fmt.Errorf("failed to create syncer: %w", err)
	}

	runErr := s.SendUpdates(ctx)

	if cfg.Pushgateway != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Timeout)
		defer cancel()
		if err := collector.Push(pushCtx, cfg.Pushgateway); err != nil {
			logger.Warn("Failed to push metrics", "pushgateway", cfg.Pushgateway, "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("notification run failed: %w", runErr)
	}
	return nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}
