package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

type healthResponse struct {
	Status        string `json:"status"`
	Uptime        int64  `json:"uptime"`
	Connections   int    `json:"connections"`
	Authenticated int    `json:"authenticated"`
	Timestamp     string `json:"timestamp"`
}

type statusResponse struct {
	Listen            string `json:"listen"`
	TLS               bool   `json:"tls"`
	GatewayUrl        string `json:"gatewayUrl"`
	HeartbeatInterval int    `json:"heartbeatInterval"`
	SessionTimeout    int    `json:"sessionTimeout"`
	AuthTimeout       int    `json:"authTimeout"`
	MaxConnections    int    `json:"maxConnections"`
	Uptime            int64  `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats := s.sessions.Stats()
	s.writeJson(w, &healthResponse{
		Status:        "ok",
		Uptime:        s.uptime(),
		Connections:   stats.TotalConnections,
		Authenticated: stats.AuthenticatedConnections,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, &statusResponse{
		Listen:            fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port),
		TLS:               s.conf.Listen.TLS,
		GatewayUrl:        s.conf.Gateway.Url,
		HeartbeatInterval: s.conf.HeartbeatInterval,
		SessionTimeout:    s.conf.Auth.SessionTimeout,
		AuthTimeout:       s.conf.Auth.AuthTimeout,
		MaxConnections:    s.conf.MaxConnections,
		Uptime:            s.uptime(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, s.sessions.Stats())
}

func (s *Server) uptime() int64 {
	return int64(time.Since(s.startedAt).Seconds())
}

func (s *Server) writeJson(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("api: encoding response", err)
	}
}

// requireBearer passes through when token is empty.
func requireBearer(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
