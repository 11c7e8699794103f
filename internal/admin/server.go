package admin

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/neurobridge/internal/observability"
	"github.com/danmuck/neurobridge/internal/server"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	DefaultListenAddr = "127.0.0.1:9465"
	Version           = "0.1.0"

	eventWriteTimeout = 5 * time.Second
	eventPingInterval = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// ConnectionLister reports the control connections a bridge is serving.
type ConnectionLister interface {
	Snapshot() []server.ConnInfo
}

type Config struct {
	ID          string
	ListenAddr  string
	CORSOrigins []string
	Connections ConnectionLister
	Events      *observability.Hub
	Logger      zerolog.Logger
}

// Server is the read-only HTTP surface next to the control endpoint.
type Server struct {
	cfg      Config
	router   *gin.Engine
	upgrader websocket.Upgrader
	appeared time.Time

	closing   chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.ID == "" {
		cfg.ID = "neurobridge"
	}
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(cfg.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		router:   r,
		appeared: time.Now(),
		closing:  make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"uptime":            time.Since(s.appeared).String(),
			"bridge":            s.cfg.ID,
			"version":           Version,
			"event_subscribers": s.cfg.Events.Subscribers(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/connections", func(c *gin.Context) {
		conns := []server.ConnInfo{}
		if s.cfg.Connections != nil {
			conns = s.cfg.Connections.Snapshot()
		}
		c.JSON(http.StatusOK, gin.H{
			"count":       len(conns),
			"connections": conns,
		})
	})

	s.router.GET("/events", s.handleEvents)
}

// handleEvents streams hub events to one websocket subscriber until either
// side goes away.
func (s *Server) handleEvents(c *gin.Context) {
	if s.cfg.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event feed disabled"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Msg("event feed upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := s.cfg.Events.Subscribe()
	defer unsubscribe()
	remote := c.Request.RemoteAddr
	s.cfg.Logger.Info().Str("remote", remote).Msg("event feed subscriber connected")
	defer s.cfg.Logger.Info().Str("remote", remote).Msg("event feed subscriber disconnected")

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(eventWriteTimeout))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.cfg.Logger.Debug().Err(err).Msg("event feed write failed")
				return
			}
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range normalizeOrigins(s.cfg.CORSOrigins) {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Run serves until ctx is done, then shuts down and ends every event feed.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.RegisterOnShutdown(s.shutdownFeeds)

	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info().Str("addr", s.cfg.ListenAddr).Msg("admin listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) shutdownFeeds() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
