package server

import (
	"encoding/json"
	"errors"
	"evgateway/auth"
	"evgateway/internal/config"
	"evgateway/session"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const testSecret = "server-secret"

type nopLogger struct{}

func (nopLogger) FeatureEvent(feature, id, text string) {}
func (nopLogger) Debug(text string)                     {}
func (nopLogger) Warn(text string)                      {}
func (nopLogger) Error(text string, err error)          {}
func (nopLogger) RawDataEvent(direction, data string)   {}

func testConfig() *config.Config {
	conf := &config.Config{}
	conf.Listen.BindIP = "127.0.0.1"
	conf.Listen.Port = "0"
	conf.Gateway.Url = "ws://127.0.0.1:1"
	conf.Auth.JwtSecret = testSecret
	conf.HeartbeatInterval = 30000
	conf.MaxConnections = 10
	return conf
}

func startServer(t *testing.T, conf *config.Config) (*httptest.Server, *session.Manager) {
	t.Helper()
	manager := session.NewManager(session.Options{
		MaxConnections:    conf.MaxConnections,
		HeartbeatInterval: conf.Heartbeat(),
		GatewayUrl:        conf.Gateway.Url,
	}, auth.NewVerifier(testSecret, "test", time.Hour), nopLogger{})
	server := NewServer(conf, manager, nopLogger{})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		manager.Shutdown()
		ts.Close()
	})
	return ts, manager
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + wsEndpoint
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame string) *session.Message {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	message := &session.Message{}
	if err = json.Unmarshal(data, message); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return message
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	ts, manager := startServer(t, testConfig())
	dial(t, ts)
	waitFor(t, func() bool { return manager.Stats().TotalConnections == 1 })

	resp, err := http.Get(ts.URL + healthEndpoint)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	health := &healthResponse{}
	if err = json.NewDecoder(resp.Body).Decode(health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.Connections != 1 || health.Authenticated != 0 {
		t.Errorf("unexpected health %+v", health)
	}
}

func TestApiRequiresBearer(t *testing.T) {
	conf := testConfig()
	conf.ApiKey = "secret-key"
	ts, _ := startServer(t, conf)

	resp, err := http.Get(ts.URL + statsEndpoint)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without key = %d", resp.StatusCode)
	}

	for _, endpoint := range []string{statsEndpoint, statusEndpoint} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+endpoint, nil)
		req.Header.Set("Authorization", "Bearer secret-key")
		resp, err = http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", endpoint, resp.StatusCode)
		}
	}
}

func TestStatusHidesSecrets(t *testing.T) {
	ts, _ := startServer(t, testConfig())

	resp, err := http.Get(ts.URL + statusEndpoint)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	status := map[string]interface{}{}
	if err = json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["gatewayUrl"] != "ws://127.0.0.1:1" {
		t.Errorf("unexpected status %v", status)
	}
	for key, value := range status {
		if value == testSecret {
			t.Errorf("secret exposed under %s", key)
		}
	}
}

func TestSessionOverWebSocket(t *testing.T) {
	ts, manager := startServer(t, testConfig())
	conn := dial(t, ts)

	message := roundTrip(t, conn, `{"id":"1","type":"heartbeat","timestamp":"2024-01-01T00:00:00Z"}`)
	if message.Type != session.TypeHeartbeat {
		t.Errorf("type = %s", message.Type)
	}

	message = roundTrip(t, conn, `{"id":"2","type":"stop_charging_request","data":{"chargePointId":"CP1","transactionId":1}}`)
	if message.Error == nil || message.Error.Code != session.CodeNotAuthenticated {
		t.Errorf("unexpected reply %+v", message)
	}

	message = roundTrip(t, conn, `garbage`)
	if message.Error == nil || message.Error.Code != session.CodeInvalidMessageFormat {
		t.Errorf("unexpected reply %+v", message)
	}

	claims := &auth.Claims{UserID: "U", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	message = roundTrip(t, conn, `{"id":"3","type":"auth_request","data":{"token":"`+token+`"}}`)
	response := &session.AuthResponse{}
	if err = json.Unmarshal(message.Data, response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !response.Success || response.UserId != "U" {
		t.Errorf("unexpected auth response %+v", response)
	}
	if stats := manager.Stats(); stats.AuthenticatedConnections != 1 || stats.TotalUsers != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	waitFor(t, func() bool { return manager.Stats().TotalConnections == 0 })
	if stats := manager.Stats(); stats.TotalUsers != 0 {
		t.Errorf("user index not pruned: %+v", stats)
	}
}

func TestOverloadClosesSocket(t *testing.T) {
	conf := testConfig()
	conf.MaxConnections = 1
	ts, manager := startServer(t, conf)
	dial(t, ts)
	waitFor(t, func() bool { return manager.Stats().TotalConnections == 1 })

	conn := dial(t, ts)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != session.CloseTryAgainLater {
		t.Fatalf("expected close 1013, got %v", err)
	}
	if stats := manager.Stats(); stats.TotalConnections != 1 {
		t.Errorf("total connections = %d, want 1", stats.TotalConnections)
	}
}

func TestShutdownClosesWithGoingAway(t *testing.T) {
	ts, manager := startServer(t, testConfig())
	conn := dial(t, ts)
	waitFor(t, func() bool { return manager.Stats().TotalConnections == 1 })

	manager.Shutdown()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseGoingAway {
		t.Fatalf("expected close 1001, got %v", err)
	}
}

func TestRequireBearerDisabled(t *testing.T) {
	handler := requireBearer("", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, statsEndpoint, nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}
