// Package server wires the terminal subsystem together and serves the
// panel API: REST for panel control, WebSocket for session data.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/termpanel/termpanel/internal/agent"
	"github.com/termpanel/termpanel/internal/api/middleware"
	"github.com/termpanel/termpanel/internal/api/ws"
	"github.com/termpanel/termpanel/internal/connstatus"
	"github.com/termpanel/termpanel/internal/infrastructure/config"
	"github.com/termpanel/termpanel/internal/infrastructure/logging"
	"github.com/termpanel/termpanel/internal/infrastructure/monitoring"
	"github.com/termpanel/termpanel/internal/panel"
	"github.com/termpanel/termpanel/internal/pty"
	"github.com/termpanel/termpanel/internal/reconnect"
	"github.com/termpanel/termpanel/internal/session"
	"github.com/termpanel/termpanel/internal/shared/id"
)

// Server owns the HTTP server and the subsystem behind it.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics

	registry   *session.Registry
	binder     *session.Binder
	reconnects *reconnect.Controller
	panel      *panel.Controller
	agents     *agent.MemoryRegistry
	bridge     *agent.Bridge
	tracker    *connstatus.Tracker

	engine *gin.Engine
	http   *http.Server
}

// New assembles the subsystem from configuration.
func New(cfg *config.Config, logger *logging.Logger) *Server {
	metrics := monitoring.NewMetrics()

	registry := session.NewRegistry().WithMetrics(metrics)

	ptyProvider := pty.NewProvider(pty.Config{
		Shell:           cfg.Terminal.Shell,
		ScrollbackBytes: cfg.Terminal.ScrollbackMiB << 20,
	}, logger)
	provider := session.NewPTYProvider(ptyProvider)

	binder := session.NewBinder(provider, registry, logger).WithMetrics(metrics)

	reconnects := reconnect.NewController(reconnect.Config{
		BaseDelay:     time.Duration(cfg.Reconnect.BaseDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(cfg.Reconnect.MaxDelayMs) * time.Millisecond,
		MaxAttempts:   cfg.Reconnect.MaxAttempts,
		CountdownTick: 100 * time.Millisecond,
	}, binder, logger).WithMetrics(metrics)
	binder.SetExitHandler(reconnects.HandleExit)

	tracker := connstatus.NewTracker(connstatus.Connected)
	reconnects.BindStatus(tracker)

	agents := agent.NewMemoryRegistry(0)
	bridge := agent.NewBridge(agents, provider, registry, logger)
	binder.SetLogSink(func(sid id.SessionID, p []byte) error {
		agents.AppendByPty(sid, p)
		return nil
	})

	panelCtrl := panel.NewController(registry, binder, reconnects, logger).
		WithAgentBridge(bridge).
		WithMetrics(metrics)

	wsHandler := ws.NewHandler(registry, binder, reconnects, logger).
		WithAgentBridge(bridge).
		WithMetrics(metrics).
		WithDefaultSize(cfg.Terminal.DefaultCols, cfg.Terminal.DefaultRows)
	reconnects.SetNotifier(wsHandler.NotifyReconnect)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(nil))
	engine.Use(middleware.RateLimit(cfg.RateLimit))

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		registry:   registry,
		binder:     binder,
		reconnects: reconnects,
		panel:      panelCtrl,
		agents:     agents,
		bridge:     bridge,
		tracker:    tracker,
		engine:     engine,
	}
	s.routes(wsHandler)
	return s
}

func (s *Server) routes(wsHandler *ws.Handler) {
	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.engine.GET("/ws", wsHandler.HandleConnection)

	p := s.engine.Group("/panel")
	{
		p.GET("/layout", s.layout)
		p.POST("/mode", s.setMode)
		p.POST("/resize", s.resize)
		p.POST("/connectivity", s.setConnectivity)

		p.GET("/sessions", s.listSessions)
		p.POST("/sessions", s.createSession)
		p.DELETE("/sessions/:id", s.closeSession)
		p.POST("/sessions/:id/split", s.split)
		p.POST("/sessions/:id/retry", s.retry)
		p.POST("/sessions/:id/retarget", s.retarget)

		p.POST("/tabs/:id/activate", s.activateTab)
		p.DELETE("/tabs/:id", s.closeTab)

		p.POST("/agents/:id/pty", s.bindAgentPty)
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{Addr: addr, Handler: s.engine}

	go s.trackUptime(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("panel server listening", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) trackUptime(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.UpdateUptime()
		}
	}
}
