package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"evgateway/internal"
	"evgateway/metrics/counters"
	"evgateway/ocpp"
	"evgateway/types"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	featureName = "Gateway"

	DefaultConnectTimeout    = 10 * time.Second
	DefaultCallTimeout       = 30 * time.Second
	DefaultReconnectDelay    = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second

	writeWait = 10 * time.Second
)

var (
	ErrNotConnected     = errors.New("gateway not connected")
	ErrConnectTimeout   = errors.New("gateway connect timeout")
	ErrCallTimeout      = errors.New("gateway call timeout")
	ErrConnectionClosed = errors.New("gateway connection closed")
	ErrLinkDestroyed    = errors.New("gateway link destroyed")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

type Options struct {
	ConnectTimeout    time.Duration
	CallTimeout       time.Duration
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return o
}

// StateObserver receives every state transition of a link.
type StateObserver interface {
	OnLinkState(chargePointId string, state State)
}

// CallHandler answers calls initiated by the charge point.
type CallHandler interface {
	OnCall(chargePointId string, call *ocpp.Call) (ocpp.Response, error)
}

type callResult struct {
	payload json.RawMessage
	err     error
}

type pendingCall struct {
	action string
	sent   time.Time
	result chan callResult
	timer  *time.Timer
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

// Link owns the single websocket connection to one charge point.
type Link struct {
	chargePointId string
	url           string
	options       Options
	dialer        *websocket.Dialer
	logger        internal.LogHandler
	observer      StateObserver
	handler       CallHandler

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	connecting *connectAttempt
	stop       chan struct{}
	reconnect  *time.Timer
	pending    map[string]*pendingCall
	messageId  uint64

	writeMu sync.Mutex
}

func NewLink(chargePointId, gatewayUrl string, options Options, logger internal.LogHandler) *Link {
	options = options.withDefaults()
	return &Link{
		chargePointId: chargePointId,
		url:           Endpoint(gatewayUrl, chargePointId),
		options:       options,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: options.ConnectTimeout,
			Subprotocols:     []string{types.SubProtocol16},
		},
		logger:  logger,
		state:   StateDisconnected,
		pending: make(map[string]*pendingCall),
	}
}

// Endpoint builds the charge point url on the gateway: <gateway>/ocpp/16/<id>.
func Endpoint(gatewayUrl, chargePointId string) string {
	return strings.TrimRight(gatewayUrl, "/") + "/ocpp/16/" + url.PathEscape(chargePointId)
}

func (l *Link) SetObserver(observer StateObserver) {
	l.observer = observer
}

func (l *Link) SetCallHandler(handler CallHandler) {
	l.handler = handler
}

func (l *Link) ChargePointId() string {
	return l.chargePointId
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) IsConnected() bool {
	return l.State() == StateConnected
}

func (l *Link) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Connect opens the socket. It is a no-op when connected; concurrent callers
// share the attempt in flight.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case StateDestroyed:
		l.mu.Unlock()
		return ErrLinkDestroyed
	case StateConnected:
		l.mu.Unlock()
		return nil
	case StateConnecting:
		attempt := l.connecting
		l.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &connectAttempt{done: make(chan struct{})}
	l.connecting = attempt
	l.state = StateConnecting
	if l.reconnect != nil {
		l.reconnect.Stop()
		l.reconnect = nil
	}
	l.mu.Unlock()
	l.notify(StateConnecting)

	attempt.err = l.dial(ctx)
	close(attempt.done)
	return attempt.err
}

func (l *Link) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, l.options.ConnectTimeout)
	defer cancel()

	conn, _, err := l.dialer.DialContext(dialCtx, l.url, nil)

	l.mu.Lock()
	if l.state == StateDestroyed {
		l.connecting = nil
		l.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrLinkDestroyed
	}
	if err != nil {
		l.state = StateDisconnected
		l.connecting = nil
		l.scheduleReconnectLocked()
		l.mu.Unlock()
		err = l.dialError(ctx, dialCtx, err)
		l.logger.FeatureEvent(featureName, l.chargePointId, fmt.Sprintf("connect failed: %v", err))
		l.notify(StateDisconnected)
		return err
	}
	stop := make(chan struct{})
	l.conn = conn
	l.stop = stop
	l.state = StateConnected
	l.connecting = nil
	l.mu.Unlock()

	l.logger.FeatureEvent(featureName, l.chargePointId, fmt.Sprintf("connected to %s", l.url))
	go l.reader(conn)
	go l.heartbeat(stop)
	l.notify(StateConnected)
	return nil
}

func (l *Link) dialError(ctx, dialCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
		return ErrConnectTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrConnectTimeout
	}
	return fmt.Errorf("dial %s: %w", l.url, err)
}

// scheduleReconnectLocked arms the fixed delay reconnect; caller holds mu.
func (l *Link) scheduleReconnectLocked() {
	if l.state == StateDestroyed || l.reconnect != nil {
		return
	}
	l.reconnect = time.AfterFunc(l.options.ReconnectDelay, l.reconnectNow)
}

func (l *Link) reconnectNow() {
	l.mu.Lock()
	l.reconnect = nil
	if l.state != StateDisconnected {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.logger.FeatureEvent(featureName, l.chargePointId, "reconnecting")
	_ = l.Connect(context.Background())
}

// Disconnect destroys the link: no further reconnects, pending calls fail.
func (l *Link) Disconnect() {
	l.mu.Lock()
	if l.state == StateDestroyed {
		l.mu.Unlock()
		return
	}
	l.state = StateDestroyed
	if l.reconnect != nil {
		l.reconnect.Stop()
		l.reconnect = nil
	}
	conn := l.conn
	l.conn = nil
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
	pending := l.pending
	l.pending = make(map[string]*pendingCall)
	l.mu.Unlock()

	if conn != nil {
		l.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "link closed"),
			time.Now().Add(time.Second))
		l.writeMu.Unlock()
		_ = conn.Close()
	}
	failPending(pending, ErrConnectionClosed)
	l.logger.FeatureEvent(featureName, l.chargePointId, "link destroyed")
	l.notify(StateDestroyed)
}

func (l *Link) connectionLost(conn *websocket.Conn, reason error) {
	l.mu.Lock()
	if l.conn != conn {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
	pending := l.pending
	l.pending = make(map[string]*pendingCall)
	l.state = StateDisconnected
	l.scheduleReconnectLocked()
	l.mu.Unlock()

	_ = conn.Close()
	failPending(pending, ErrConnectionClosed)
	l.logger.FeatureEvent(featureName, l.chargePointId, fmt.Sprintf("connection lost: %v; reconnect in %v", reason, l.options.ReconnectDelay))
	l.notify(StateDisconnected)
}

func failPending(pending map[string]*pendingCall, err error) {
	for _, p := range pending {
		p.timer.Stop()
		p.result <- callResult{err: err}
	}
}

func (l *Link) notify(state State) {
	if l.observer != nil {
		l.observer.OnLinkState(l.chargePointId, state)
	}
}

func (l *Link) reader(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.connectionLost(conn, err)
			return
		}
		l.logger.RawDataEvent("IN", string(data))
		l.handleFrame(conn, data)
	}
}

func (l *Link) handleFrame(conn *websocket.Conn, data []byte) {
	frame, err := ocpp.ParseFrame(data)
	if err != nil {
		l.logger.Warn(fmt.Sprintf("invalid message from charge point %s: %v", l.chargePointId, err))
		return
	}
	switch f := frame.(type) {
	case *ocpp.CallResult:
		l.resolve(f.UniqueId, callResult{payload: f.Payload})
	case *ocpp.CallError:
		l.resolve(f.UniqueId, callResult{err: f.Err()})
	case *ocpp.Call:
		l.answer(conn, f)
	}
}

func (l *Link) resolve(id string, result callResult) {
	p := l.takePending(id)
	if p == nil {
		l.logger.FeatureEvent(featureName, l.chargePointId, fmt.Sprintf("dropped response for unknown message %s", id))
		return
	}
	p.timer.Stop()
	p.result <- result
}

// takePending removes the entry; only the caller that gets it may complete the call.
func (l *Link) takePending(id string) *pendingCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pending[id]
	if !ok {
		return nil
	}
	delete(l.pending, id)
	return p
}

func (l *Link) answer(conn *websocket.Conn, call *ocpp.Call) {
	var frame interface{}
	if l.handler == nil {
		frame = &ocpp.CallError{
			UniqueId:         call.UniqueId,
			ErrorCode:        ocpp.ErrorCodeNotImplemented,
			ErrorDescription: fmt.Sprintf("%s is not handled", call.Action),
		}
	} else {
		response, err := l.handler.OnCall(l.chargePointId, call)
		frame = l.replyFrame(call, response, err)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		l.logger.Error("encoding reply", err)
		return
	}
	if err = l.write(conn, data); err != nil {
		l.logger.Error(fmt.Sprintf("sending reply to %s", l.chargePointId), err)
	}
}

func (l *Link) replyFrame(call *ocpp.Call, response ocpp.Response, err error) interface{} {
	if err != nil {
		var protocolErr *ocpp.ProtocolError
		if errors.As(err, &protocolErr) {
			return &ocpp.CallError{
				UniqueId:         call.UniqueId,
				ErrorCode:        protocolErr.Code,
				ErrorDescription: protocolErr.Description,
				ErrorDetails:     protocolErr.Details,
			}
		}
		return &ocpp.CallError{UniqueId: call.UniqueId, ErrorCode: ocpp.ErrorCodeInternalError, ErrorDescription: err.Error()}
	}
	payload, err := json.Marshal(response)
	if err != nil {
		return &ocpp.CallError{UniqueId: call.UniqueId, ErrorCode: ocpp.ErrorCodeInternalError, ErrorDescription: err.Error()}
	}
	return &ocpp.CallResult{UniqueId: call.UniqueId, Payload: payload}
}

func (l *Link) write(conn *websocket.Conn, data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.logger.RawDataEvent("OUT", string(data))
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SendCall sends the request and waits for its result, a CallError, the call
// timeout or the context.
func (l *Link) SendCall(ctx context.Context, request ocpp.Request) (json.RawMessage, error) {
	l.mu.Lock()
	if l.state != StateConnected || l.conn == nil {
		l.mu.Unlock()
		return nil, ErrNotConnected
	}
	l.messageId++
	id := strconv.FormatUint(l.messageId, 10)
	call, err := ocpp.NewCall(id, request)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	p := &pendingCall{
		action: call.Action,
		sent:   time.Now(),
		result: make(chan callResult, 1),
	}
	p.timer = time.AfterFunc(l.options.CallTimeout, func() {
		if l.takePending(id) != nil {
			p.result <- callResult{err: ErrCallTimeout}
		}
	})
	l.pending[id] = p
	conn := l.conn
	l.mu.Unlock()

	data, err := json.Marshal(call)
	if err == nil {
		err = l.write(conn, data)
	}
	if err != nil {
		if l.takePending(id) != nil {
			p.timer.Stop()
		}
		l.observeCall(p, "error")
		return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	select {
	case r := <-p.result:
		l.observeCall(p, resultLabel(r.err))
		return r.payload, r.err
	case <-ctx.Done():
		if l.takePending(id) != nil {
			p.timer.Stop()
			l.observeCall(p, "cancelled")
			return nil, ctx.Err()
		}
		r := <-p.result
		l.observeCall(p, resultLabel(r.err))
		return r.payload, r.err
	}
}

func (l *Link) observeCall(p *pendingCall, result string) {
	counters.ObserveCall(p.action, result, time.Since(p.sent))
}

func resultLabel(err error) string {
	var protocolErr *ocpp.ProtocolError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCallTimeout):
		return "timeout"
	case errors.As(err, &protocolErr):
		return "call_error"
	default:
		return "closed"
	}
}

func (l *Link) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(l.options.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := l.Heartbeat(context.Background()); err != nil {
				l.logger.FeatureEvent(featureName, l.chargePointId, fmt.Sprintf("heartbeat failed: %v", err))
			}
		}
	}
}
