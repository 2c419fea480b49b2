package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/nexocrm/mailsync/internal/config"
	"github.com/nexocrm/mailsync/internal/diagnostics"
	"github.com/nexocrm/mailsync/internal/discovery"
	"github.com/nexocrm/mailsync/internal/dispatch"
	"github.com/nexocrm/mailsync/internal/downstream"
	"github.com/nexocrm/mailsync/internal/folderops"
	"github.com/nexocrm/mailsync/internal/imapconn"
	"github.com/nexocrm/mailsync/internal/server"
	"github.com/nexocrm/mailsync/internal/snapshot"
	"github.com/nexocrm/mailsync/internal/store"
	"github.com/nexocrm/mailsync/internal/syncer"
	"github.com/nexocrm/mailsync/pkg/telemetry"
	"github.com/nexocrm/mailsync/pkg/utils"
)

func main() {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env file: %s", err)
	}

	app := &cli.App{
		Name:  "mailsync",
		Usage: "IMAP folder synchronization service",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP sync service",
				Action: serve,
			},
			{
				Name:  "sync",
				Usage: "Run one folder sync pass for a bearer token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Required: true, Usage: "API bearer token"},
				},
				Action: syncOnce,
			},
			{
				Name:  "diagnose",
				Usage: "Report schema completeness and sync status",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true, Usage: "user ID"},
				},
				Action: diagnose,
			},
			{
				Name:  "cleanup-settings",
				Usage: "Remove duplicate connection settings, keeping the oldest",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true, Usage: "user ID"},
				},
				Action: cleanupSettings,
			},
			{
				Name:  "reset",
				Usage: "Export then clear a user's folder snapshot and sync state",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true, Usage: "user ID"},
				},
				Action: reset,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// deps is the wired object graph shared by every subcommand.
type deps struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	dialer *imapconn.Dialer
	svc    *syncer.Service
	ops    *folderops.Ops
	diag   *diagnostics.Diagnostics
	runner *dispatch.Runner
}

func build(cfg config.Config, logger *slog.Logger) (*deps, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	dialer, err := imapconn.NewDialer(
		imapconn.WithTimeouts(cfg.Timeouts),
		imapconn.WithInsecureTLS(cfg.AllowInsecureTLS),
		imapconn.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	disc, err := discovery.NewDiscoverer(logger)
	if err != nil {
		return nil, err
	}

	runner := dispatch.NewRunner(logger, 64)

	svc, err := syncer.New(
		syncer.WithStore(st),
		syncer.WithDialer(dialer),
		syncer.WithDiscoverer(disc),
		syncer.WithRunner(runner),
		syncer.WithTrigger(downstream.New(downstream.WithBaseURL(cfg.MessageSyncURL))),
		syncer.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	ops, err := folderops.New(dialer, logger)
	if err != nil {
		return nil, err
	}

	var exporter snapshot.Exporter
	if cfg.SnapshotEnabled() {
		exporter, err = snapshot.NewS3Exporter(cfg.SnapshotBucket, cfg.SnapshotPrefix, cfg.SnapshotRegion)
		if err != nil {
			return nil, err
		}
	}

	diag, err := diagnostics.New(st, dialer, exporter, logger)
	if err != nil {
		return nil, err
	}

	return &deps{
		cfg:    cfg,
		logger: logger,
		store:  st,
		dialer: dialer,
		svc:    svc,
		ops:    ops,
		diag:   diag,
		runner: runner,
	}, nil
}

func buildFromEnv(logger *slog.Logger) (*deps, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	return build(cfg, logger)
}

func stdoutLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func serve(c *cli.Context) error {
	ctx := c.Context

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	logger := stdoutLogger()
	if cfg.TelemetryEnabled() {
		shutdown, err := telemetry.Setup(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("Telemetry shutdown failed",
					slog.Any("error", utils.WrapError(err)))
			}
		}()
		logger = telemetry.Logger()
	}

	d, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer d.store.Close() //nolint:errcheck

	d.runner.Start()
	defer d.runner.Stop()

	srv, err := server.New(d.svc, d.ops, d.diag, d.store, logger)
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	app := srv.App()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("Shutting down")
		if err := app.Shutdown(); err != nil {
			logger.Error("HTTP shutdown failed",
				slog.Any("error", utils.WrapError(err)))
		}
	}()

	logger.Info("Listening", slog.String("addr", d.cfg.ListenAddr))
	return app.Listen(d.cfg.ListenAddr)
}

func syncOnce(c *cli.Context) error {
	d, err := buildFromEnv(stdoutLogger())
	if err != nil {
		return err
	}
	defer d.store.Close() //nolint:errcheck

	d.runner.Start()
	defer d.runner.Stop()

	res := d.svc.SyncFolders(c.Context, c.String("token"))
	return printResult(res)
}

func diagnose(c *cli.Context) error {
	d, err := buildFromEnv(stdoutLogger())
	if err != nil {
		return err
	}
	defer d.store.Close() //nolint:errcheck

	if err := printResult(d.diag.CheckSchema(c.Context)); err != nil {
		return err
	}
	return printResult(d.diag.Status(c.Context, c.String("user")))
}

func cleanupSettings(c *cli.Context) error {
	d, err := buildFromEnv(stdoutLogger())
	if err != nil {
		return err
	}
	defer d.store.Close() //nolint:errcheck

	return printResult(d.diag.CleanupDuplicateSettings(c.Context, c.String("user")))
}

func reset(c *cli.Context) error {
	d, err := buildFromEnv(stdoutLogger())
	if err != nil {
		return err
	}
	defer d.store.Close() //nolint:errcheck

	return printResult(d.diag.Reset(c.Context, c.String("user")))
}

func printResult(res any) error {
	encoded, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
