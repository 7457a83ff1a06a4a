package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"scenehub/internal/config"
	"scenehub/internal/logging"
	"scenehub/internal/notify"
	"scenehub/internal/observability"
	"scenehub/internal/presence"
	"scenehub/internal/scene"
)

// ExecutorNames reports the registered messaging backends, for the health
// endpoint.
type ExecutorNames interface {
	Names() []string
}

// Server hosts the cross-service HTTP protocol: scene broadcasts, user
// notifications, presence, and the ops event stream.
type Server struct {
	directory   *scene.Directory
	broadcaster *scene.Broadcaster
	dispatcher  *notify.Dispatcher
	tracker     *presence.Tracker
	executors   ExecutorNames

	engine     *gin.Engine
	httpServer *http.Server
	hub        *EventHub
	wsUpgrader websocket.Upgrader
	tracer     *observability.TracerProvider

	logger    logging.Logger
	startTime time.Time
}

// Deps bundles the components the HTTP layer exposes.
type Deps struct {
	Directory   *scene.Directory
	Broadcaster *scene.Broadcaster
	Dispatcher  *notify.Dispatcher
	Tracker     *presence.Tracker
	Executors   ExecutorNames
	Logger      logging.Logger
	// Hub is optional; supplying one lets the caller feed directory events
	// into the stream before the server exists.
	Hub *EventHub
	// Tracer is optional; when set every request runs under a span.
	Tracer *observability.TracerProvider
	// AccessLog is optional; requests are logged through it when set.
	AccessLog *observability.Logger
}

// New builds the Server and its gin engine. The event hub is created here;
// wire Directory events into it with EventHub().
func New(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := logging.OrNop(deps.Logger)
	tracer := deps.Tracer
	if tracer == nil {
		// A disabled provider yields noop spans.
		tracer, _ = observability.NewTracerProvider(observability.TracingConfig{})
	}
	accessLog := deps.AccessLog
	if accessLog == nil {
		accessLog = observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestIDMiddleware())
	engine.Use(TracingMiddleware(tracer))
	engine.Use(AccessLogMiddleware(accessLog))

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With", requestIDHeader}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	hub := deps.Hub
	if hub == nil {
		hub = NewEventHub(logger)
	}

	s := &Server{
		directory:   deps.Directory,
		broadcaster: deps.Broadcaster,
		dispatcher:  deps.Dispatcher,
		tracker:     deps.Tracker,
		executors:   deps.Executors,
		engine:      engine,
		hub:         hub,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		tracer:    tracer,
		logger:    logger,
		startTime: time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.Use(JSONMiddleware())

	api.POST("/scenes/update", s.handleUpdateScenes)
	api.POST("/notify", s.handleNotify)

	api.GET("/presence/:item_id", s.handleGetPresence)
	api.POST("/presence/:item_id/touch", s.handleTouchPresence)

	api.GET("/events/stream", s.handleEventStream)
}

// EventHub returns the ops event hub, so the wiring layer can feed directory
// events into it.
func (s *Server) EventHub() *EventHub {
	return s.hub
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and disconnects event-stream clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
