// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/api"
	"github.com/bureau-foundation/switchboard/credstore"
	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/logging"
	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/lib/version"
	"github.com/bureau-foundation/switchboard/pairing"
	"github.com/bureau-foundation/switchboard/protocol/matrix"
	"github.com/bureau-foundation/switchboard/session"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath   string
	logLevel     string
	initIdentity string
	showVersion  bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("switchboard", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to the config file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "console log level: debug, info, warn or error")
	flagSet.StringVar(&opts.initIdentity, "init-identity", "", "generate an age identity for sealing credentials at this path, print its public key and exit")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))
	}
	return opts, nil
}

func parseLevel(text string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(text)); err != nil {
		return 0, fmt.Errorf("--log-level: %w", err)
	}
	return level, nil
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "switchboard %s\n", version.Info())
		return nil
	}

	if opts.initIdentity != "" {
		return initIdentity(opts.initIdentity, stdout)
	}

	level, err := parseLevel(opts.logLevel)
	if err != nil {
		return err
	}

	var cfg *config.Config
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:          level,
		DiagnosticPath: cfg.Paths.DiagnosticLog,
	})
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger, stdout)
}

func initIdentity(path string, stdout io.Writer) error {
	identity, err := sealed.GenerateIdentity()
	if err != nil {
		return err
	}
	if err := sealed.WriteIdentityFile(path, identity); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\npublic key: %s\n", path, identity.Recipient())
	return nil
}

// serve runs the manager and control API until ctx ends.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout io.Writer) error {
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	images, err := pairing.NewFileSink(pairing.FileSinkConfig{
		Root:   cfg.Paths.Sessions,
		Size:   cfg.Pairing.ImageSize,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	sink := pairing.Sink(images)
	if cfg.Pairing.Terminal {
		sink = pairing.Multi(images, pairing.NewTerminalSink(stdout, logger))
	}

	dialer, err := newMatrixDialer(cfg, logger)
	if err != nil {
		return err
	}

	managerConfig := session.Config{
		Store:            store,
		Dialer:           dialer,
		Sink:             sink,
		Logger:           logger,
		SettleInterval:   cfg.Sessions.SettleInterval.Std(),
		RestartGrace:     cfg.Sessions.RestartGrace.Std(),
		DetachGrace:      cfg.Sessions.DetachGrace.Std(),
		RetryInterval:    cfg.Sessions.RetryInterval.Std(),
		DisableAutoReply: !cfg.Sessions.AutoReply,
	}
	if cfg.Sessions.ReplyTemplate != "" {
		managerConfig.Reply, err = session.TemplateReply(cfg.Sessions.ReplyTemplate)
		if err != nil {
			return fmt.Errorf("sessions.reply_template: %w", err)
		}
	}
	manager, err := session.NewManager(managerConfig)
	if err != nil {
		return err
	}
	defer manager.Close()

	logger.Info("switchboard starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"homeserver", cfg.Matrix.Homeserver,
		"store", cfg.Store.Backend,
	)

	// Sessions that fail to come up stay registered and are reported
	// through the API; only a store failure is fatal.
	if err := manager.Bootstrap(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, session.ErrListSessions) {
			return err
		}
		logger.Error("some sessions failed to connect", "error", err)
	}

	var server *api.Server
	if cfg.Server.Listen != "" {
		server, err = api.NewServer(api.ServerConfig{
			Address:  cfg.Server.Listen,
			Sessions: manager,
			Images:   images,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return err
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("control API did not shut down cleanly", "error", err)
		}
	}
	return manager.Close()
}

func openStore(cfg *config.Config, logger *slog.Logger) (credstore.Store, func() error, error) {
	var identity *sealed.Identity
	if cfg.Paths.Identity != "" {
		var err error
		identity, err = sealed.LoadIdentity(cfg.Paths.Identity)
		if err != nil {
			return nil, nil, err
		}
	}

	switch cfg.Store.Backend {
	case config.BackendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Store.Redis.Addrs,
			Username: cfg.Store.Redis.Username,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		store, err := credstore.NewRedisStore(credstore.RedisStoreConfig{
			Client:   client,
			Prefix:   cfg.Store.Redis.Prefix,
			Identity: identity,
			Logger:   logger,
		})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil
	default:
		store, err := credstore.NewFileStore(credstore.FileStoreConfig{
			Root:     cfg.Paths.Sessions,
			Identity: identity,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	}
}

func newMatrixDialer(cfg *config.Config, logger *slog.Logger) (*matrix.Dialer, error) {
	client, err := matrix.NewClient(matrix.ClientConfig{
		HomeserverURL: cfg.Matrix.Homeserver,
		// Room for the long-poll plus a slow response.
		HTTPClient: &http.Client{Timeout: cfg.Matrix.SyncTimeout.Std() + 30*time.Second},
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return matrix.NewDialer(matrix.DialerConfig{
		Client:            client,
		RegistrationToken: cfg.Matrix.RegistrationToken,
		UsernamePrefix:    cfg.Matrix.UsernamePrefix,
		DeviceName:        cfg.Matrix.DeviceName,
		SyncTimeout:       cfg.Matrix.SyncTimeout.Std(),
		MaxSyncFailures:   cfg.Matrix.MaxSyncFailures,
		Logger:            logger,
	})
}
