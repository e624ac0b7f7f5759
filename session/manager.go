package session

import (
	"context"
	"encoding/json"
	"errors"
	"evgateway/auth"
	"evgateway/gateway"
	"evgateway/internal"
	"evgateway/metrics/counters"
	"evgateway/ocpp"
	"evgateway/ocpp/core"
	"evgateway/types"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	featureName = "Session"

	CloseGoingAway     = 1001
	CloseTryAgainLater = 1013
	CloseAuthTimeout   = 4001
	CloseInactive      = 4002

	DefaultAuthTimeout       = 5 * time.Minute
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxConnections    = 1000

	livenessFactor = 3
)

var ErrOverloaded = errors.New("too many connections")

// Conn is the transport side of a client session.
type Conn interface {
	Send(data []byte) error
	Close(code int, reason string)
	RemoteAddr() string
}

// ChargePointLink is the part of gateway.Link the manager drives.
type ChargePointLink interface {
	ChargePointId() string
	Connect(ctx context.Context) error
	IsConnected() bool
	RemoteStartTransaction(ctx context.Context, connectorId int, idTag string) (*core.RemoteStartTransactionResponse, error)
	RemoteStopTransaction(ctx context.Context, transactionId int) (*core.RemoteStopTransactionResponse, error)
	Disconnect()
}

type LinkFactory func(chargePointId string) ChargePointLink

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
	IssueSessionToken(userId, sessionId string) (*auth.SessionToken, error)
}

type Options struct {
	MaxConnections     int
	AuthTimeout        time.Duration
	HeartbeatInterval  time.Duration
	AuthAttemptsPerMin int
	GatewayUrl         string
	Gateway            gateway.Options
}

type Stats struct {
	TotalConnections         int `json:"totalConnections"`
	AuthenticatedConnections int `json:"authenticatedConnections"`
	TotalUsers               int `json:"totalUsers"`
	GatewayConnections       int `json:"gatewayConnections"`
}

// Manager owns every client session and the links to charge points.
type Manager struct {
	options  Options
	verifier TokenVerifier
	newLink  LinkFactory
	logger   internal.LogHandler
	events   internal.EventHandler
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	arena arena
	users map[string]map[Handle]struct{}
	links map[string]ChargePointLink
}

func NewManager(options Options, verifier TokenVerifier, logger internal.LogHandler) *Manager {
	if options.MaxConnections <= 0 {
		options.MaxConnections = DefaultMaxConnections
	}
	if options.AuthTimeout <= 0 {
		options.AuthTimeout = DefaultAuthTimeout
	}
	if options.HeartbeatInterval <= 0 {
		options.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if options.Gateway.HeartbeatInterval <= 0 {
		options.Gateway.HeartbeatInterval = options.HeartbeatInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		options:  options,
		verifier: verifier,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		users:    make(map[string]map[Handle]struct{}),
		links:    make(map[string]ChargePointLink),
	}
	m.newLink = m.gatewayLink
	return m
}

func (m *Manager) gatewayLink(chargePointId string) ChargePointLink {
	link := gateway.NewLink(chargePointId, m.options.GatewayUrl, m.options.Gateway, m.logger)
	link.SetObserver(m)
	link.SetCallHandler(m)
	return link
}

func (m *Manager) SetLinkFactory(factory LinkFactory) {
	m.newLink = factory
}

func (m *Manager) SetEventHandler(handler internal.EventHandler) {
	m.events = handler
}

// Start launches the liveness sweep.
func (m *Manager) Start() {
	go m.sweepLoop()
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.options.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// OnConnect registers a new unauthenticated session, or closes the socket when at capacity.
func (m *Manager) OnConnect(conn Conn) (Handle, error) {
	m.mu.Lock()
	if m.arena.count >= m.options.MaxConnections {
		m.mu.Unlock()
		conn.Close(CloseTryAgainLater, "try again later")
		counters.CountClosed("overload")
		m.logger.Warn(fmt.Sprintf("connection from %s rejected: %d sessions open", conn.RemoteAddr(), m.options.MaxConnections))
		return Handle{}, ErrOverloaded
	}
	now := m.now()
	s := &Session{
		Id:             newSessionId(),
		ConnectedAt:    now,
		LastActivityAt: now,
		conn:           conn,
		authorized:     make(map[string]struct{}),
		limiter:        newAuthLimiter(m.options.AuthAttemptsPerMin),
	}
	h := m.arena.insert(s)
	s.authTimer = time.AfterFunc(m.options.AuthTimeout, func() { m.authExpired(h) })
	m.observeLocked()
	m.mu.Unlock()

	m.logger.FeatureEvent(featureName, s.Id, fmt.Sprintf("connected from %s", conn.RemoteAddr()))
	m.event(&internal.EventMessage{Type: internal.EventSessionOpen, SessionId: s.Id, Info: conn.RemoteAddr()})
	return h, nil
}

func (m *Manager) authExpired(h Handle) {
	m.mu.Lock()
	s := m.arena.get(h)
	if s == nil || s.authenticated() {
		m.mu.Unlock()
		return
	}
	m.removeLocked(h)
	m.mu.Unlock()

	s.conn.Close(CloseAuthTimeout, "authentication timeout")
	counters.CountClosed("auth_timeout")
	m.closed(s, "authentication timeout")
}

// OnClose drops the session after the transport closed; stale handles are ignored.
func (m *Manager) OnClose(h Handle, code int, reason string) {
	m.mu.Lock()
	s := m.removeLocked(h)
	m.mu.Unlock()
	if s == nil {
		return
	}
	m.closed(s, fmt.Sprintf("closed: %d %s", code, reason))
}

func (m *Manager) closed(s *Session, info string) {
	m.logger.FeatureEvent(featureName, s.Id, info)
	m.event(&internal.EventMessage{Type: internal.EventSessionClose, SessionId: s.Id, UserId: s.UserId, Info: info})
}

// removeLocked frees the slot and unindexes the session; caller holds mu.
func (m *Manager) removeLocked(h Handle) *Session {
	s := m.arena.remove(h)
	if s == nil {
		return nil
	}
	s.authTimer.Stop()
	m.unindexLocked(h, s.UserId)
	m.observeLocked()
	return s
}

func (m *Manager) unindexLocked(h Handle, userId string) {
	if userId == "" {
		return
	}
	handles := m.users[userId]
	delete(handles, h)
	if len(handles) == 0 {
		delete(m.users, userId)
	}
}

// OnMessage handles one inbound frame; the reply is sent before it returns.
func (m *Manager) OnMessage(h Handle, raw []byte) {
	m.mu.Lock()
	s := m.arena.get(h)
	if s == nil {
		m.mu.Unlock()
		return
	}
	s.LastActivityAt = m.now()
	m.mu.Unlock()

	envelope, message, errBody := ParseClientMessage(raw)
	if errBody != nil {
		messageType := ""
		if envelope != nil {
			messageType = envelope.Type
		}
		counters.CountMessage(messageType, "rejected")
		m.sendError(h, errBody)
		return
	}

	var outcome string
	switch msg := message.(type) {
	case *AuthRequest:
		outcome = m.handleAuth(h, msg)
	case *StartChargingRequest:
		outcome = m.handleStartCharging(h, msg)
	case *StopChargingRequest:
		outcome = m.handleStopCharging(h, msg)
	case *HeartbeatRequest:
		outcome = "ok"
		m.reply(h, TypeHeartbeat, nil)
	}
	counters.CountMessage(message.MessageType(), outcome)
}

func (m *Manager) handleAuth(h Handle, request *AuthRequest) string {
	m.mu.Lock()
	s := m.arena.get(h)
	if s == nil {
		m.mu.Unlock()
		return "stale"
	}
	limiter := s.limiter
	sessionId := s.Id
	m.mu.Unlock()

	if !limiter.Allow() {
		m.reply(h, TypeAuthResponse, &AuthResponse{Message: "Too many authentication attempts"})
		return "limited"
	}

	claims, err := m.verifier.Verify(request.Token)
	if err != nil {
		message := "Invalid token"
		if errors.Is(err, auth.ErrTokenExpired) {
			message = "Token expired"
		}
		m.logger.FeatureEvent(featureName, sessionId, fmt.Sprintf("authentication failed: %v", err))
		m.reply(h, TypeAuthResponse, &AuthResponse{Message: message})
		return "failed"
	}
	token, err := m.verifier.IssueSessionToken(claims.UserID, sessionId)
	if err != nil {
		m.logger.Error("issue session token", err)
		m.reply(h, TypeAuthResponse, &AuthResponse{Message: "Authentication failed"})
		return "failed"
	}

	m.mu.Lock()
	s = m.arena.get(h)
	if s == nil {
		m.mu.Unlock()
		return "stale"
	}
	if s.UserId != claims.UserID {
		m.unindexLocked(h, s.UserId)
		handles, ok := m.users[claims.UserID]
		if !ok {
			handles = make(map[Handle]struct{})
			m.users[claims.UserID] = handles
		}
		handles[h] = struct{}{}
	}
	s.UserId = claims.UserID
	s.SessionToken = token.Token
	s.ExpiresAt = token.ExpiresAt
	s.authTimer.Stop()
	m.observeLocked()
	m.mu.Unlock()

	m.logger.FeatureEvent(featureName, sessionId, fmt.Sprintf("authenticated as user %s", claims.UserID))
	m.event(&internal.EventMessage{Type: internal.EventSessionAuth, SessionId: sessionId, UserId: claims.UserID})
	m.reply(h, TypeAuthResponse, &AuthResponse{
		Success:      true,
		UserId:       claims.UserID,
		SessionId:    sessionId,
		SessionToken: token.Token,
		ExpiresAt:    timestamp(token.ExpiresAt),
		Message:      "Authenticated",
	})
	return "ok"
}

func (m *Manager) handleStartCharging(h Handle, request *StartChargingRequest) string {
	m.mu.Lock()
	s := m.arena.get(h)
	if s == nil {
		m.mu.Unlock()
		return "stale"
	}
	if !s.authenticated() {
		m.mu.Unlock()
		m.sendError(h, &ErrorBody{Code: CodeNotAuthenticated, Message: "Authentication required"})
		return "rejected"
	}
	sessionId, userId := s.Id, s.UserId
	link := m.linkLocked(request.ChargePointId)
	m.mu.Unlock()

	connectorId := *request.ConnectorId
	fail := func(err error) string {
		m.logger.FeatureEvent(featureName, sessionId, fmt.Sprintf("start charging on %s failed: %v", request.ChargePointId, err))
		m.sendError(h, &ErrorBody{Code: CodeStartChargingFailed, Message: err.Error(), Details: errorDetails(err)})
		return "failed"
	}

	if !link.IsConnected() {
		if err := link.Connect(m.ctx); err != nil {
			return fail(err)
		}
	}
	response, err := link.RemoteStartTransaction(m.ctx, connectorId, request.IdTag)
	if err != nil {
		return fail(err)
	}

	accepted := response.Status == types.RemoteStartStopStatusAccepted
	if accepted {
		m.mu.Lock()
		if s = m.arena.get(h); s != nil {
			s.authorized[request.ChargePointId] = struct{}{}
		}
		m.mu.Unlock()
	}

	m.event(&internal.EventMessage{
		Type:          internal.EventChargingStart,
		SessionId:     sessionId,
		UserId:        userId,
		ChargePointId: request.ChargePointId,
		ConnectorId:   connectorId,
		TransactionId: intValue(response.TransactionId),
		Status:        string(response.Status),
	})
	m.reply(h, TypeStartChargingResult, &StartChargingResponse{
		Success:       accepted,
		TransactionId: response.TransactionId,
		ConnectorId:   connectorId,
		Status:        string(response.Status),
		Message:       statusMessage("Charging started", "Charge point rejected the start request", accepted),
	})
	return string(response.Status)
}

func (m *Manager) handleStopCharging(h Handle, request *StopChargingRequest) string {
	m.mu.Lock()
	s := m.arena.get(h)
	if s == nil {
		m.mu.Unlock()
		return "stale"
	}
	if !s.authenticated() {
		m.mu.Unlock()
		m.sendError(h, &ErrorBody{Code: CodeNotAuthenticated, Message: "Authentication required"})
		return "rejected"
	}
	if _, ok := s.authorized[request.ChargePointId]; !ok {
		m.mu.Unlock()
		m.sendError(h, &ErrorBody{Code: CodeNotAuthorized, Message: "Not authorized for charge point " + request.ChargePointId})
		return "rejected"
	}
	sessionId, userId := s.Id, s.UserId
	link := m.links[request.ChargePointId]
	m.mu.Unlock()

	if link == nil || !link.IsConnected() {
		m.sendError(h, &ErrorBody{Code: CodeGatewayNotConnected, Message: "Charge point " + request.ChargePointId + " is not connected"})
		return "rejected"
	}

	transactionId := *request.TransactionId
	response, err := link.RemoteStopTransaction(m.ctx, transactionId)
	if err != nil {
		m.logger.FeatureEvent(featureName, sessionId, fmt.Sprintf("stop charging on %s failed: %v", request.ChargePointId, err))
		m.sendError(h, &ErrorBody{Code: CodeStopChargingFailed, Message: err.Error(), Details: errorDetails(err)})
		return "failed"
	}

	accepted := response.Status == types.RemoteStartStopStatusAccepted
	m.event(&internal.EventMessage{
		Type:          internal.EventChargingStop,
		SessionId:     sessionId,
		UserId:        userId,
		ChargePointId: request.ChargePointId,
		TransactionId: transactionId,
		Status:        string(response.Status),
		Info:          request.Reason,
	})
	m.reply(h, TypeStopChargingResult, &StopChargingResponse{
		Success:       accepted,
		TransactionId: transactionId,
		Status:        string(response.Status),
		Message:       statusMessage("Charging stopped", "Charge point rejected the stop request", accepted),
	})
	return string(response.Status)
}

// linkLocked returns the link of the charge point, creating it on first use; caller holds mu.
func (m *Manager) linkLocked(chargePointId string) ChargePointLink {
	link, ok := m.links[chargePointId]
	if !ok {
		link = m.newLink(chargePointId)
		m.links[chargePointId] = link
	}
	return link
}

// OnLinkState follows the state of gateway links created by the manager.
func (m *Manager) OnLinkState(chargePointId string, state gateway.State) {
	m.mu.Lock()
	m.observeLocked()
	m.mu.Unlock()
	m.event(&internal.EventMessage{Type: internal.EventLinkState, ChargePointId: chargePointId, Status: state.String()})
}

// BroadcastToUser sends the message to every session of the user and returns the number delivered.
func (m *Manager) BroadcastToUser(userId string, message *Message) int {
	data, err := json.Marshal(message)
	if err != nil {
		m.logger.Error("encoding broadcast message", err)
		return 0
	}
	m.mu.Lock()
	conns := make([]Conn, 0, len(m.users[userId]))
	for h := range m.users[userId] {
		if s := m.arena.get(h); s != nil {
			conns = append(conns, s.conn)
		}
	}
	m.mu.Unlock()

	sent := 0
	for _, conn := range conns {
		if err = conn.Send(data); err == nil {
			sent++
		}
	}
	return sent
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *Manager) statsLocked() Stats {
	stats := Stats{
		TotalConnections: m.arena.count,
		TotalUsers:       len(m.users),
	}
	m.arena.each(func(_ Handle, s *Session) {
		if s.authenticated() {
			stats.AuthenticatedConnections++
		}
	})
	for _, link := range m.links {
		if link.IsConnected() {
			stats.GatewayConnections++
		}
	}
	return stats
}

func (m *Manager) observeLocked() {
	stats := m.statsLocked()
	counters.ObserveSessions(stats.TotalConnections, stats.AuthenticatedConnections, stats.TotalUsers)
	counters.ObserveLinks(stats.GatewayConnections)
}

// sweep pings idle sessions and closes the ones silent for three heartbeat intervals.
func (m *Manager) sweep() {
	now := m.now()
	interval := m.options.HeartbeatInterval
	var idle []Handle
	var expired []*Session

	m.mu.Lock()
	m.arena.each(func(h Handle, s *Session) {
		inactive := now.Sub(s.LastActivityAt)
		switch {
		case inactive > livenessFactor*interval:
			expired = append(expired, s)
			m.removeLocked(h)
		case inactive > interval:
			idle = append(idle, h)
		}
	})
	m.mu.Unlock()

	for _, h := range idle {
		m.reply(h, TypeHeartbeat, nil)
	}
	for _, s := range expired {
		s.conn.Close(CloseInactive, "heartbeat timeout")
		counters.CountClosed("inactive")
		m.closed(s, fmt.Sprintf("inactive since %s", s.LastActivityAt.Format(time.RFC3339)))
	}
}

// Shutdown stops the sweep, destroys every link and closes every session.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.cancel()
		close(m.stop)

		m.mu.Lock()
		links := m.links
		m.links = make(map[string]ChargePointLink)
		var sessions []*Session
		m.arena.each(func(h Handle, s *Session) {
			sessions = append(sessions, s)
			m.removeLocked(h)
		})
		m.mu.Unlock()

		for _, link := range links {
			link.Disconnect()
		}
		for _, s := range sessions {
			s.conn.Close(CloseGoingAway, "server shutting down")
		}
		m.logger.FeatureEvent(featureName, "", fmt.Sprintf("shutdown: closed %d sessions, %d links", len(sessions), len(links)))
	})
}

func (m *Manager) reply(h Handle, messageType string, data interface{}) {
	message, err := NewMessage(messageType, data)
	if err != nil {
		m.logger.Error(fmt.Sprintf("encoding %s", messageType), err)
		return
	}
	m.send(h, message)
}

func (m *Manager) sendError(h Handle, body *ErrorBody) {
	m.send(h, NewErrorMessage(body))
}

// send delivers to the session behind the handle; replies to closed sessions are dropped.
func (m *Manager) send(h Handle, message *Message) {
	m.mu.Lock()
	s := m.arena.get(h)
	m.mu.Unlock()
	if s == nil {
		return
	}
	data, err := json.Marshal(message)
	if err != nil {
		m.logger.Error(fmt.Sprintf("encoding %s", message.Type), err)
		return
	}
	if err = s.conn.Send(data); err != nil {
		m.logger.FeatureEvent(featureName, s.Id, fmt.Sprintf("send %s failed: %v", message.Type, err))
	}
}

func (m *Manager) event(event *internal.EventMessage) {
	if m.events == nil {
		return
	}
	event.Time = m.now()
	m.events.OnEvent(event)
}

func newAuthLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

func errorDetails(err error) interface{} {
	var protocolErr *ocpp.ProtocolError
	if errors.As(err, &protocolErr) {
		return map[string]string{"ocppErrorCode": protocolErr.Code}
	}
	return nil
}

func statusMessage(accepted, rejected string, ok bool) string {
	if ok {
		return accepted
	}
	return rejected
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
