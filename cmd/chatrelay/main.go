// Command chatrelay runs the message-relay gateway: it owns the
// credential pool, stamina controller, per-context queue, LLM client,
// outbound correlator, and task runner, and drives whichever channel
// adapters are enabled in config.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/internal/assembler"
	"chatrelay/internal/auditlog"
	"chatrelay/internal/bus"
	"chatrelay/internal/channel"
	"chatrelay/internal/config"
	"chatrelay/internal/correlator"
	"chatrelay/internal/credential"
	"chatrelay/internal/domain"
	"chatrelay/internal/llmclient"
	"chatrelay/internal/orchestrator"
	"chatrelay/internal/persona"
	"chatrelay/internal/queue"
	"chatrelay/internal/remotemodel"
	"chatrelay/internal/stamina"
	"chatrelay/internal/taskrunner"
	"chatrelay/internal/thoughtlog"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "chatrelay",
		Short: "ChatRelay: a stamina-gated, context-batching chat relay",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.chatrelay/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configSubCmd())
	root.AddCommand(loginCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if err := config.Save(path, config.Defaults()); err != nil {
				return err
			}
			logger.Info("wrote default config", "path", path)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Load config and report LLM backend health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pool := credential.New(cfg.Credentials.Primary, cfg.Credentials.Backup, logger)
			factory, err := remotemodel.NewFactory(cfg.LLM, pool)
			if err != nil {
				return fmt.Errorf("build llm backend: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := factory.Healthy(ctx); err != nil {
				logger.Warn("llm backend unhealthy", "backend", cfg.LLM.Backend, "error", err)
				return nil
			}
			logger.Info("llm backend healthy", "backend", cfg.LLM.Backend, "model", factory.Model().Name())
			return nil
		},
	}
}

func configSubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get, set, and list configuration values",
	}

	cmd.AddCommand(&cobra.Command{
		Use:  "get [path]",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "set [path] [value]",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return err
			}
			return config.Save(path, cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use: "list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.ListPaths(config.Sanitize(cfg)), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	return cmd
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Open a browser to log in to the configured web LLM backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			pool := credential.New(cfg.Credentials.Primary, cfg.Credentials.Backup, logger)
			factory, err := remotemodel.NewFactory(cfg.LLM, pool)
			if err != nil {
				return err
			}

			type loginable interface {
				Login(context.Context) error
			}
			l, ok := factory.Model().(loginable)
			if !ok {
				return fmt.Errorf("backend %q does not support browser login", cfg.LLM.Backend)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return l.Login(ctx)
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the long-lived gateway: channels in, LLM decisions out",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		logger.Warn("config not found, using defaults", "path", resolveConfigPath(), "error", err)
		cfg = config.Defaults()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	pool := credential.New(cfg.Credentials.Primary, cfg.Credentials.Backup, logger)
	stam := stamina.New(stamina.Config{
		SMax:           cfg.Stamina.SMax,
		K:              cfg.Stamina.K,
		P:              cfg.Stamina.P,
		Alpha:          cfg.Stamina.Alpha,
		Beta:           cfg.Stamina.Beta,
		Gamma:          cfg.Stamina.Gamma,
		R:              cfg.Stamina.R,
		RegenInterval:  cfg.Stamina.RegenInterval(),
		LowThresh:      cfg.Stamina.LowThresh,
		CriticalThresh: cfg.Stamina.CriticalThresh,
	}, logger)
	stam.SetRestMode(cfg.Stamina.RestMode)

	factory, err := remotemodel.NewFactory(cfg.LLM, pool)
	if err != nil {
		return fmt.Errorf("build llm backend: %w", err)
	}

	p := persona.Default()
	if cfg.Persona.FilePath != "" {
		p, err = persona.Load(cfg.Persona.FilePath)
		if err != nil {
			return fmt.Errorf("load persona: %w", err)
		}
	}

	client := llmclient.New(factory.Model(), pool, p, logger)
	asm := assembler.New(cfg.BotIdentity.BotID)
	adapter := llmclient.NewAdapter(client, asm)

	runner := taskrunner.New(logger)
	corr := correlator.New(runner, cfg.TaskRunner.MaxAttempts, logger)

	q := queue.New(queue.Config{
		BotName:            cfg.BotIdentity.BotName,
		SilenceSeconds:     cfg.Scheduler.SilenceSeconds,
		MaxQueueSize:       cfg.Scheduler.MaxQueueSize,
		MaxQueueAgeSeconds: cfg.Scheduler.MaxQueueAgeSeconds,
	}, stam, adapter, corr, logger)

	orch := orchestrator.New(orchestrator.Config{
		BotID:         cfg.BotIdentity.BotID,
		BotName:       cfg.BotIdentity.BotName,
		AdminSenderID: cfg.BotIdentity.AdminSenderID,
	}, pool, stam, q, runner, corr, factory, messageBus, logger)

	if cfg.Audit.Enabled {
		audit, err := auditlog.Open(cfg.Audit.DBPath, logger)
		if err != nil {
			logger.Warn("audit log disabled: failed to open", "error", err)
		} else {
			defer audit.Close()
			events := bus.NewEventBus(logger)
			orch.EnableObservability(events, audit)
		}
	}

	thoughtsPath := config.ExpandPath("~/.chatrelay/thoughts.ndjson")
	if tw, err := thoughtlog.Open(thoughtsPath); err != nil {
		logger.Warn("thought log disabled: failed to open", "error", err)
	} else {
		defer tw.Close()
		orch.SetThoughtWriter(tw)
	}

	orch.Initialize(ctx)

	go func() {
		for msg := range messageBus.Subscribe() {
			orch.HandleInbound(msg)
		}
	}()

	var channels []domain.Channel
	if cfg.Channels.CLI.Enabled {
		channels = append(channels, channel.NewCLI(channel.CLIConfig{Logger: logger}))
	}
	if cfg.Channels.Telegram.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Logger:    logger,
		}))
	}
	if cfg.Channels.Discord.Enabled {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
	}
	if cfg.Channels.Slack.Enabled {
		channels = append(channels, channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		}))
	}

	for _, ch := range channels {
		ch := ch
		go func() {
			if err := ch.Start(ctx, messageBus); err != nil && ctx.Err() == nil {
				logger.Error("channel stopped with error", "channel", ch.Name(), "error", err)
			}
		}()
	}

	logger.Info("chatrelay gateway running", "version", version, "channels", len(channels))
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ch := range channels {
		_ = ch.Stop()
	}
	return orch.Shutdown(shutdownCtx)
}
