package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"playai-relay-backend/config"
	"playai-relay-backend/handlers"
	"playai-relay-backend/metrics"
	"playai-relay-backend/playht"
	"playai-relay-backend/websocket"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "playai-relay",
		Short:        "Relay text to the Play.ht streaming TTS API and stream MP3 back",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}
			cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (env CONFIG_PATH)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, configPath string) error {
	logger, level := newLogger(cfg.Log)
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector("playai_relay", reg, logger)

	creds, err := cfg.Credentials()
	if err != nil {
		return err
	}
	client, err := playht.NewClient(creds,
		playht.WithEndpoint(cfg.PlayHT.Endpoint),
		playht.WithResponseHeaderTimeout(cfg.PlayHT.ResponseHeaderTimeout),
		playht.WithLogger(logger),
		playht.WithMetrics(collector),
	)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(client, logger, collector, cfg.PlayHT.ChunkSize)
	r := newRouter(cfg, logger, collector, reg, handlers.NewStreamAudioHandler(client, logger, collector, cfg.PlayHT.ChunkSize), hub)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if configPath != "" {
		g.Go(func() error {
			// A watcher failure only disables log level reload.
			if err := config.WatchLogLevel(gctx, configPath, level, logger); err != nil {
				logger.Warn("Config watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("playai relay starting",
			zap.String("addr", srv.Addr),
			zap.String("upstream", cfg.PlayHT.Endpoint),
			zap.Stringer("credentials", creds),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func newRouter(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector, gatherer prometheus.Gatherer, streamAudio http.Handler, hub *websocket.Hub) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handlers.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(collector.Middleware())
	r.Use(cors.Handler(corsOptions(cfg.CORS)))

	r.Method(http.MethodPost, "/stream_audio", streamAudio)
	r.Get("/ws", hub.HandleWebSocket)
	r.Get("/health", handlers.Health)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, metrics.Handler(gatherer))
	}

	return r
}

// corsOptions maps the config to go-chi/cors. Browsers reject a literal
// "*" origin on credentialed requests, so "*" is served by echoing the
// caller's origin.
func corsOptions(cfg config.CORSConfig) cors.Options {
	opts := cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   cfg.ExposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}
	if cfg.AllowCredentials && slices.Contains(cfg.AllowedOrigins, "*") {
		opts.AllowedOrigins = nil
		opts.AllowOriginFunc = func(r *http.Request, origin string) bool {
			return true
		}
	}
	return opts
}

func newLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	lvl, err := config.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	level := zap.NewAtomicLevelAt(lvl)

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            level,
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger, level
}
