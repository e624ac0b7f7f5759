package server

import (
	"context"
	"crypto/tls"
	"errors"
	"evgateway/internal"
	"evgateway/internal/config"
	"evgateway/session"
	"evgateway/utility"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	wsEndpoint     = "/ws"
	healthEndpoint = "/health"
	statusEndpoint = "/api/status"
	statsEndpoint  = "/api/stats"
)

// SessionHandler receives the lifecycle of every client socket.
type SessionHandler interface {
	OnConnect(conn session.Conn) (session.Handle, error)
	OnMessage(h session.Handle, raw []byte)
	OnClose(h session.Handle, code int, reason string)
	Stats() session.Stats
}

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	upgrader   websocket.Upgrader
	sessions   SessionHandler
	logger     internal.LogHandler
	startedAt  time.Time
}

func NewServer(conf *config.Config, sessions SessionHandler, logger internal.LogHandler) *Server {
	server := &Server{
		conf:     conf,
		sessions: sessions,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		startedAt: time.Now(),
	}
	router := httprouter.New()
	server.Register(router)
	server.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server
}

func (s *Server) Register(router *httprouter.Router) {
	router.GET(wsEndpoint, s.handleWsRequest)
	router.GET(healthEndpoint, s.handleHealth)
	router.Handler(http.MethodGet, statusEndpoint, requireBearer(s.conf.ApiKey, http.HandlerFunc(s.handleStatus)))
	router.Handler(http.MethodGet, statsEndpoint, requireBearer(s.conf.ApiKey, http.HandlerFunc(s.handleStats)))
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleWsRequest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.logger.Debug(fmt.Sprintf("connection initiated from remote %s", r.RemoteAddr))
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observeUpgrade("failed")
		s.logger.Warn(fmt.Sprintf("upgrade from %s failed: %v", r.RemoteAddr, err))
		return
	}
	observeUpgrade("ok")

	ws := newWebSocket(conn, s.logger)
	h, err := s.sessions.OnConnect(ws)
	if err != nil {
		ws.shutdown()
		return
	}
	go ws.readLoop(s.sessions, h)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	if s.conf == nil {
		return utility.Err("configuration not loaded")
	}
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	var err error
	if s.conf.Listen.TLS {
		cert, certErr := tls.LoadX509KeyPair(s.conf.Listen.CertFile, s.conf.Listen.KeyFile)
		if certErr != nil {
			return fmt.Errorf("failed to load certificate: %w", certErr)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		s.logger.Debug(fmt.Sprintf("starting https server on %s", listener.Addr()))
		err = s.httpServer.ServeTLS(listener, "", "")
	} else {
		s.logger.Debug(fmt.Sprintf("starting http server on %s", listener.Addr()))
		err = s.httpServer.Serve(listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections; hijacked websockets are closed by the session manager.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
