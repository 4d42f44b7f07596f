package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/traywatch/api"
	"github.com/nvr-ai/traywatch/config"
	"github.com/nvr-ai/traywatch/logging"
	"github.com/nvr-ai/traywatch/queue"
	"github.com/nvr-ai/traywatch/store"
)

const (
	// Flags.
	flagConfig      = "config"
	flagLogLevel    = "log-level"
	flagVideo       = "video"
	flagTransaction = "transaction"
	flagListen      = "listen"
	flagWorkers     = "workers"
	flagDown        = "down"

	// shutdownTimeout bounds the HTTP drain on exit.
	shutdownTimeout = 10 * time.Second
)

// Supported file extensions
var supportedVideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}

func main() {
	var (
		cfg    config.Config
		logger *zap.Logger
	)

	app := &cli.App{
		Name:  "traywatch",
		Usage: "track trays on a cafeteria counter and raise alarms for unpaid plates",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				EnvVars: []string{"TRAYWATCH_CONFIG"},
				Usage:   "Load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "override logging.level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			if cfg, err = config.Load(c.String(flagConfig)); err != nil {
				return err
			}
			if lvl := c.String(flagLogLevel); lvl != "" {
				cfg.Logging.Level = lvl
			}
			logger, err = logging.New(cfg.Logging)
			return err
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				_ = logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API and the worker pool",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagListen, Usage: "override api.listen"},
					&cli.IntFlag{Name: flagWorkers, Usage: "override worker.concurrency"},
				},
				Action: func(c *cli.Context) error {
					if addr := c.String(flagListen); addr != "" {
						cfg.API.Listen = addr
					}
					if n := c.Int(flagWorkers); n > 0 {
						cfg.Worker.Concurrency = n
					}
					return serve(c.Context, cfg, logger)
				},
			},
			{
				Name:  "process",
				Usage: "process one video synchronously",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagVideo, Required: true, Usage: "video file, frame directory or stream URL"},
					&cli.StringFlag{Name: flagTransaction, Usage: "transaction id attached to alarms"},
				},
				Action: func(c *cli.Context) error {
					return process(c.Context, cfg, logger, c.String(flagVideo), c.String(flagTransaction))
				},
			},
			{
				Name:  "migrate",
				Usage: "apply the SQLite schema",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagDown, Usage: "roll every migration back"},
				},
				Action: func(c *cli.Context) error {
					return migrateStore(cfg, logger, c.Bool(flagDown))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "traywatch:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newServices(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	q, err := rt.openQueue(ctx)
	if err != nil {
		return err
	}

	opts := []api.Option{
		api.WithProofDir(cfg.Alarm.ProofDir),
		api.WithMetrics(rt.metrics),
	}
	if rt.reader != nil {
		opts = append(opts, api.WithJournal(rt.reader))
	}
	server := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           api.NewServer(q, logger, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	w, err := rt.newWorker()
	if err != nil {
		return err
	}
	pool := rt.newPool(q, w)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.API.Listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return multierr.Combine(server.Shutdown(shutdownCtx), q.Close())
	})

	err = g.Wait()
	rt.dispatcher.Wait()
	return err
}

func process(ctx context.Context, cfg config.Config, logger *zap.Logger, videoPath, transaction string) error {
	if err := validateSource(videoPath); err != nil {
		return errors.Wrap(err, "video validation error")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newServices(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	w, err := rt.newWorker()
	if err != nil {
		return err
	}
	item := queue.WorkItem{TransactionID: transaction, VideoSource: videoPath}.WithDefaults(time.Now())
	err = w.ProcessItem(ctx, item)
	rt.dispatcher.Wait()
	return err
}

func migrateStore(cfg config.Config, logger *zap.Logger, down bool) error {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if down {
		err = db.MigrateDown(logger)
	} else {
		err = db.MigrateUp(logger)
	}
	if err != nil {
		return err
	}
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return err
	}
	logger.Info("schema", zap.String("path", db.Path()), zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// validateSource accepts stream URLs, frame directories and video files with
// a supported extension.
func validateSource(source string) error {
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Host != "" {
		return nil
	}
	if info, err := os.Stat(source); err == nil && info.IsDir() {
		return nil
	}
	return validateFile(source, supportedVideoExtensions)
}

// validateFile checks if the file exists and has a supported extension
func validateFile(filePath string, supportedExtensions []string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("file not found: %s", filePath)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	for _, supportedExt := range supportedExtensions {
		if ext == supportedExt {
			return nil
		}
	}

	return fmt.Errorf("unsupported file extension: %s. Supported extensions: %v", ext, supportedExtensions)
}
