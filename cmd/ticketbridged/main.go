package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	apiPkg "github.com/ticketbridge-io/ticketbridge/internal/api"
	"github.com/ticketbridge-io/ticketbridge/internal/config"
	"github.com/ticketbridge-io/ticketbridge/internal/connector"
	slackconn "github.com/ticketbridge-io/ticketbridge/internal/connector/slack"
	"github.com/ticketbridge-io/ticketbridge/internal/detect"
	"github.com/ticketbridge-io/ticketbridge/internal/intake"
	"github.com/ticketbridge-io/ticketbridge/internal/logbuf"
	"github.com/ticketbridge-io/ticketbridge/internal/notify"
	"github.com/ticketbridge-io/ticketbridge/internal/notion"
	"github.com/ticketbridge-io/ticketbridge/internal/poller"
	"github.com/ticketbridge-io/ticketbridge/internal/scheduler"
	"github.com/ticketbridge-io/ticketbridge/internal/state"
	"github.com/ticketbridge-io/ticketbridge/internal/translate"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	if *configPath == "" {
		logger.Error("missing required -config flag")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("ticketbridged starting", "schedule", cfg.Bridge.Schedule)

	// 1. Mapping registry and translator. Bad mappings must never serve.
	reg, err := cfg.Registry()
	if err != nil {
		logger.Error("invalid field mapping configuration", "error", err)
		os.Exit(1)
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Error("invalid timezone", "error", err)
		os.Exit(1)
	}
	tr := translate.New(reg,
		translate.WithMaxDepth(cfg.Bridge.MaxDepth),
		translate.WithDisplayTime(loc, cfg.Time.Layout),
	)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Open the state store
	var store state.Store
	switch cfg.State.Backend {
	case "s3":
		store, err = state.NewS3Store(ctx, state.S3StoreConfig{
			Bucket:   cfg.State.S3.Bucket,
			Region:   cfg.State.S3.Region,
			Endpoint: cfg.State.S3.Endpoint,
			Prefix:   cfg.State.S3.Prefix,
		})
	default:
		if err := os.MkdirAll(cfg.Bridge.DataDir, 0o755); err != nil {
			logger.Error("failed to create data dir", "dir", cfg.Bridge.DataDir, "error", err)
			os.Exit(1)
		}
		store, err = state.NewSQLiteStore(filepath.Join(cfg.Bridge.DataDir, "state.db"))
	}
	if err != nil {
		logger.Error("failed to open state store", "backend", cfg.State.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("state store opened", "backend", cfg.State.Backend)

	// 3. Slack connector. The intake handler is wired after the connector
	// exists because it sends confirmations through it.
	var intakeHandler *intake.Handler
	submissionHandler := func(ctx context.Context, sub connector.Submission) error {
		return intakeHandler.Handle(ctx, sub)
	}
	slackConn, err := slackconn.New(slackconn.Config{
		BotToken:     cfg.Secrets.SlackBotToken,
		AppToken:     cfg.Secrets.SlackAppToken,
		SlashCommand: cfg.Slack.SlashCommand,
		Form: slackconn.FormOptions{
			Title:           cfg.Slack.Form.Title,
			Greeting:        cfg.Slack.Form.Greeting,
			TitlePrompt:     cfg.Slack.Form.TitlePrompt,
			LinkPrompt:      cfg.Slack.Form.LinkPrompt,
			DetailsPrompt:   cfg.Slack.Form.DetailsPrompt,
			DueDatePrompt:   cfg.Slack.Form.DueDatePrompt,
			MinDaysUntilDue: cfg.Slack.Form.MinDaysUntilDue,
			Categories:      cfg.Slack.Form.Categories,
		},
	}, submissionHandler, logger.With("connector", "slack"))
	if err != nil {
		logger.Error("failed to init slack connector", "error", err)
		os.Exit(1)
	}

	// 4. Notion client
	var notionOpts []notion.Option
	if cfg.Notion.BaseURL != "" {
		notionOpts = append(notionOpts, notion.WithBaseURL(cfg.Notion.BaseURL))
	}
	if cfg.Notion.Version != "" {
		notionOpts = append(notionOpts, notion.WithVersion(cfg.Notion.Version))
	}
	if cfg.Notion.PageSize > 0 {
		notionOpts = append(notionOpts, notion.WithPageSize(cfg.Notion.PageSize))
	}
	notionClient := notion.New(cfg.Secrets.NotionToken, cfg.Notion.DatabaseID, notionOpts...)

	// 5. Intake handler
	intakeHandler, err = intake.New(tr, notionClient, slackConn, slackConn, intake.Config{
		TeamChannel: cfg.Slack.TeamChannel,
		Messages: intake.Messages{
			SuccessUser: cfg.Slack.Messages.SuccessUser,
			SuccessTeam: cfg.Slack.Messages.SuccessTeam,
			FailUser:    cfg.Slack.Messages.FailUser,
			FailTeam:    cfg.Slack.Messages.FailTeam,
		},
	}, logger.With("component", "intake"))
	if err != nil {
		logger.Error("failed to init intake handler", "error", err)
		os.Exit(1)
	}

	// 6. Transition detection and notification
	detector := detect.New(store, cfg.Notify.CompletionLabels, logger.With("component", "detect"))
	dispatcher, err := notify.New(store, slackConn, notify.Config{
		TeamChannel:   cfg.Slack.TeamChannel,
		UserTemplate:  cfg.Notify.UserTemplate,
		TeamTemplate:  cfg.Notify.TeamTemplate,
		RatePerSecond: cfg.Notify.RatePerSecond,
	}, logger.With("component", "notify"))
	if err != nil {
		logger.Error("failed to init dispatcher", "error", err)
		os.Exit(1)
	}
	dispatcher.SetFormatter(func(d notify.MessageData) notify.MessageData {
		d.CreatedAt = tr.FormatTimestamp(d.CreatedAt)
		d.DueDate = tr.FormatDate(d.DueDate)
		return d
	})

	// 7. Poller on the configured schedule
	poll := poller.New(notionClient, tr, detector, dispatcher, cfg.Bridge.PollWorkers, logger.With("component", "poller"))
	sched := scheduler.New(logger.With("component", "scheduler"))
	if err := sched.AddJob("poll", cfg.Bridge.Schedule, func(ctx context.Context) {
		if err := poll.RunCycle(ctx); err != nil {
			logger.Error("poll cycle failed", "error", err)
		}
	}); err != nil {
		logger.Error("invalid poll schedule", "error", err)
		os.Exit(1)
	}

	// 8. Ops API server
	apiSrv := apiPkg.NewServer(poll, logBuf, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.Secrets.APIKey,
	}, logger.With("component", "api"))

	go safeGo(logger, "slack", func() error { return slackConn.Start(ctx) })
	go safeGo(logger, "scheduler", func() error { return sched.Start(ctx) })
	go safeGo(logger, "api-server", func() error { return apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 9. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	slackConn.Stop()
	cancel()
	logger.Info("ticketbridged stopped")
}

// safeGo runs fn with panic recovery and logs the error it exits with, so a
// component that dies after startup is visible in the logs.
func safeGo(logger *slog.Logger, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	if err := fn(); err != nil {
		logger.Error("component exited", "name", name, "error", err)
	}
}
