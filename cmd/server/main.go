package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dylive/barrage-relay/internal/comport"
	"github.com/dylive/barrage-relay/internal/config"
	"github.com/dylive/barrage-relay/internal/engine"
	"github.com/dylive/barrage-relay/internal/filter"
	"github.com/dylive/barrage-relay/internal/gift"
	"github.com/dylive/barrage-relay/internal/normalize"
	"github.com/dylive/barrage-relay/internal/notify"
	"github.com/dylive/barrage-relay/internal/replay"
	"github.com/dylive/barrage-relay/internal/room"
	"github.com/dylive/barrage-relay/internal/server"
	"github.com/dylive/barrage-relay/internal/ws"
)

var (
	cfgFile string
	verbose bool
)

func setupLogger(verbose bool, logCfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}

	// Set log level from config
	if logCfg != nil && logCfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(level)
		}
	}

	// Add file output if enabled
	if logCfg != nil && logCfg.Enabled {
		if err := os.MkdirAll(logCfg.Directory, 0o755); err != nil {
			return nil, fmt.Errorf("creating logs directory: %w", err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		logFile := filepath.Join(logCfg.Directory, fmt.Sprintf("relay_%s.log", timestamp))
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, logFile)
	}

	return zapConfig.Build()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "barrage-relay",
		Short: "Normalize livestream room events and fan them out to local consumers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := setupLogger(verbose, &cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.Ints("printFilter", cfg.Filters.Print),
		zap.Ints("pushFilter", cfg.Filters.Push),
		zap.Ints("logFilter", cfg.Filters.Log),
		zap.Strings("webRoomIds", cfg.Rooms.WebRoomIDs),
		zap.Bool("heartbeatReap", cfg.Heartbeat.ReapEnabled),
		zap.Bool("serial", cfg.Serial.Port != ""),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The room cache is fed by the capture layer; the relay only reads it.
	rooms := room.NewCache()

	filters := filter.NewChain(cfg.Filters.Print, cfg.Filters.Push, cfg.Filters.Log)
	normalizer := normalize.New(rooms, cfg.Rooms.WebRoomIDs, logger)

	reconciler := gift.NewReconciler(cfg.GiftCache.TTL, cfg.GiftCache.SweepInterval, logger)
	go reconciler.Run(ctx)

	registry := ws.NewRegistry(cfg.Heartbeat.ReapEnabled, cfg.Heartbeat.CheckInterval, logger)
	go registry.Run(ctx)

	var printer *engine.Printer
	if cfg.Console.PrintEnabled {
		printer = engine.NewPrinter(rooms)
	}

	var blog *engine.BarrageLog
	if cfg.BarrageLog.Enabled {
		blog, err = engine.NewBarrageLog(cfg.BarrageLog.Directory, logger)
		if err != nil {
			return err
		}
		defer func() { _ = blog.Close() }()
	}

	eng := engine.New(normalizer, reconciler, filters, registry, printer, blog, logger)

	if cfg.Serial.Port != "" {
		sink, err := comport.Open(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.ScriptPath, rooms, logger)
		if err != nil {
			return err
		}
		sink.AttachTo(eng)
		defer func() { _ = sink.Close() }()
		logger.Info("serial sink attached",
			zap.String("port", cfg.Serial.Port),
			zap.Int("baudRate", cfg.Serial.BaudRate),
		)
	}

	if cfg.Notify.Enabled {
		eng.AddSink(notify.New(&cfg.Notify, logger))
		logger.Info("stream-end notifier attached", zap.String("topic", cfg.Notify.Topic))
	}

	if cfg.Replay.Directory != "" {
		source, err := replay.NewSource(cfg.Replay.Directory, cfg.Replay.Interval, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := source.Run(ctx, eng.HandleRaw); err != nil {
				logger.Error("replay source failed", zap.Error(err))
			}
		}()
	}

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.NewRouter(registry, eng, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	// Stop the background loops and the event source
	cancel()

	// Graceful HTTP server shutdown, then drain the subscriber registry
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	registry.Shutdown()

	logger.Info("server stopped")
	return nil
}
