package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/crowdcount/internal/analysis"
	"github.com/your-org/crowdcount/internal/api"
	"github.com/your-org/crowdcount/internal/api/handlers"
	"github.com/your-org/crowdcount/internal/api/ws"
	"github.com/your-org/crowdcount/internal/config"
	"github.com/your-org/crowdcount/internal/ingest"
	"github.com/your-org/crowdcount/internal/observability"
	"github.com/your-org/crowdcount/internal/queue"
	"github.com/your-org/crowdcount/internal/render"
	"github.com/your-org/crowdcount/internal/storage"
	"github.com/your-org/crowdcount/internal/vision"
	"github.com/your-org/crowdcount/internal/zones"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)

	slog.Info("starting crowdcount", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ONNX Runtime + person detector
	libPath := cfg.Vision.ONNXLibPath
	if libPath == "" {
		libPath = getONNXLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "lib", libPath, "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		slog.Error("create onnx session options", "error", err)
		os.Exit(1)
	}
	if cfg.Vision.IntraOpThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(cfg.Vision.IntraOpThreads); err != nil {
			slog.Warn("set intra-op threads", "error", err)
		}
	}

	detector, err := vision.NewDetector(cfg.Vision.ModelPath, vision.Options{
		InputSize:     cfg.Vision.InputSize,
		ConfThreshold: float32(cfg.Vision.ConfThreshold),
		IoUThreshold:  float32(cfg.Vision.IoUThreshold),
	}, sessionOpts)
	sessionOpts.Destroy()
	if err != nil {
		slog.Error("load detector", "model", cfg.Vision.ModelPath, "error", err)
		os.Exit(1)
	}
	defer detector.Close()
	slog.Info("detector ready", "model", cfg.Vision.ModelPath, "input", detector.InputSize())

	checks := map[string]handlers.Check{}

	// MinIO is optional; it backs minio:// feeds.
	var presigner ingest.Presigner
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		presigner = minioStore
		checks["minio"] = minioStore.Ping
	}

	zoneStore := zones.NewStore()
	publisher := analysis.NewPublisher()
	broadcaster := render.NewBroadcaster(cfg.Analysis.JPEGQuality)

	opener := &ingest.Opener{
		Resolver: ingest.NewResolver(presigner),
		FFmpeg:   ingest.FFmpegOptions{Path: cfg.Analysis.FFmpegPath},
	}
	controller := analysis.NewController(opener, detector, zoneStore, publisher, analysis.Options{
		Width:         cfg.Analysis.FrameWidth,
		Height:        cfg.Analysis.FrameHeight,
		FrameInterval: cfg.Analysis.FrameInterval(),
		Sinks:         []analysis.FrameSink{broadcaster},
	})

	// WebSocket hub
	hub := ws.NewHub(publisher.Snapshot)
	go hub.Run(ctx)
	publisher.OnPublish(hub.Publish)

	// NATS is optional; it mirrors counts and accepts control commands.
	if cfg.NATS.URL != "" {
		bus, err := queue.NewBus(cfg.NATS)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer bus.Close()

		publisher.OnPublish(func(s analysis.Snapshot) {
			if err := bus.PublishCounts(s); err != nil {
				slog.Warn("publish counts", "error", err)
			}
		})
		if _, err := bus.SubscribeControl(ctx, &queue.Dispatcher{Controller: controller, Zones: zoneStore}); err != nil {
			slog.Error("subscribe control", "error", err)
			os.Exit(1)
		}
		checks["nats"] = func(context.Context) error { return bus.Ping() }
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		Controller: controller,
		Counts:     publisher,
		Zones:      zoneStore,
		Hub:        hub,
		VideoFeed:  render.NewStream(broadcaster),
		Checks:     checks,
	})

	// No WriteTimeout: video_feed and ws are long-lived streams.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Streaming handlers end when ctx is cancelled on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")
	controller.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("crowdcount stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
