package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tjweldon/marain/internal/app"
	"github.com/tjweldon/marain/internal/command"
	"github.com/tjweldon/marain/internal/config"
	"github.com/tjweldon/marain/internal/gateway"
	"github.com/tjweldon/marain/internal/health"
	"github.com/tjweldon/marain/internal/logging"
	"github.com/tjweldon/marain/internal/login"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Auth happens inside the login handshake itself (ECDH + assigned
	// user id), not at the Origin header, so cross-origin upgrades are
	// allowed here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	envPaths := []string{".env", "../../.env", "../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment file", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := gateway.New(cfg.GatewayBufferSize)
	application := app.New(gw.Out)
	go application.Run(ctx)

	wsServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: http.HandlerFunc(newWebSocketHandler(ctx, gw, cfg.HandshakeTimeout)),
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: newMetricsRouter(),
	}

	go func() {
		logging.Info(ctx, "marain-server: websocket listener starting", zap.String("addr", wsServer.Addr))
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "marain-server: websocket listener failed", zap.Error(err))
		}
	}()

	go func() {
		logging.Info(ctx, "marain-server: metrics listener starting", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "marain-server: metrics listener failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "marain-server: shutting down")

	cancel() // stops App.Run and every in-flight Worker's ctx.Done() case

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "marain-server: websocket server forced shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "marain-server: metrics server forced shutdown", zap.Error(err))
	}

	logging.Info(ctx, "marain-server: exited")
}

// newWebSocketHandler upgrades each request to a WebSocket, runs the login
// handshake, and (on success) spawns the resulting SessionWorker along
// with its dedicated AppGateway forwarding goroutine.
func newWebSocketHandler(ctx context.Context, gw *gateway.Gateway, handshakeTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn(ctx, "marain-server: websocket upgrade failed", zap.Error(err))
			return
		}

		cmdSrc := make(chan command.Command, 16)
		go gw.Forward(ctx, cmdSrc)

		worker, err := login.Accept(ctx, conn, cmdSrc, handshakeTimeout)
		if err != nil {
			logging.Warn(ctx, "marain-server: handshake failed", zap.Error(err))
			close(cmdSrc)
			return
		}
		// Forward only runs as long as cmdSrc stays open; close it once
		// this connection's Worker exits so its goroutine doesn't outlive
		// the connection.
		go func() {
			worker.Run(ctx)
			close(cmdSrc)
		}()
	}
}

// newMetricsRouter builds the ambient HTTP surface (health + Prometheus
// scrape endpoint), kept separate from the WebSocket listener so it can
// bind a different address/network policy.
func newMetricsRouter() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true

	router := gin.Default()
	router.Use(cors.New(corsConfig))
	router.Use(gin.Recovery())

	h := health.NewHandler()
	router.GET("/health/live", h.Liveness)
	router.GET("/health/ready", h.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
