package session

import (
	"bytes"
	"encoding/json"
	"evgateway/types"
	"evgateway/utility"
	"time"
)

const (
	TypeAuthRequest          = "auth_request"
	TypeAuthResponse         = "auth_response"
	TypeStartChargingRequest = "start_charging_request"
	TypeStartChargingResult  = "start_charging_response"
	TypeStopChargingRequest  = "stop_charging_request"
	TypeStopChargingResult   = "stop_charging_response"
	TypeHeartbeat            = "heartbeat"
	TypeError                = "error"
)

// Error codes reported to clients in error frames.
const (
	CodeNotAuthenticated     = "NOT_AUTHENTICATED"
	CodeNotAuthorized        = "NOT_AUTHORIZED"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeUnknownMessageType   = "UNKNOWN_MESSAGE_TYPE"
	CodeInvalidMessageFormat = "INVALID_MESSAGE_FORMAT"
	CodeGatewayNotConnected  = "GATEWAY_NOT_CONNECTED"
	CodeStartChargingFailed  = "START_CHARGING_FAILED"
	CodeStopChargingFailed   = "STOP_CHARGING_FAILED"
)

// Message is the envelope of every frame on the client socket.
type Message struct {
	Id        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorBody      `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *ErrorBody) Error() string {
	return e.Code + ": " + e.Message
}

// ClientMessage is one of AuthRequest, StartChargingRequest, StopChargingRequest
// or HeartbeatRequest.
type ClientMessage interface {
	MessageType() string
	validate() error
}

type AuthRequest struct {
	Token string `json:"token"`
}

func (r *AuthRequest) MessageType() string { return TypeAuthRequest }

func (r *AuthRequest) validate() error {
	if r.Token == "" {
		return utility.Err("token is required")
	}
	return nil
}

type StartChargingRequest struct {
	ChargePointId string `json:"chargePointId"`
	ConnectorId   *int   `json:"connectorId"`
	IdTag         string `json:"idTag"`
}

func (r *StartChargingRequest) MessageType() string { return TypeStartChargingRequest }

func (r *StartChargingRequest) validate() error {
	if r.ChargePointId == "" {
		return utility.Err("chargePointId is required")
	}
	if r.ConnectorId == nil || *r.ConnectorId < 0 {
		return utility.Err("connectorId must be a non-negative number")
	}
	if r.IdTag == "" {
		return utility.Err("idTag is required")
	}
	return nil
}

type StopChargingRequest struct {
	ChargePointId string `json:"chargePointId"`
	TransactionId *int   `json:"transactionId"`
	Reason        string `json:"reason,omitempty"`
}

func (r *StopChargingRequest) MessageType() string { return TypeStopChargingRequest }

func (r *StopChargingRequest) validate() error {
	if r.ChargePointId == "" {
		return utility.Err("chargePointId is required")
	}
	if r.TransactionId == nil {
		return utility.Err("transactionId is required")
	}
	return nil
}

type HeartbeatRequest struct{}

func (r *HeartbeatRequest) MessageType() string { return TypeHeartbeat }
func (r *HeartbeatRequest) validate() error     { return nil }

// ParseClientMessage decodes the envelope and its data into the variant selected by type.
// The returned error body carries the code to report back to the client.
func ParseClientMessage(raw []byte) (*Message, ClientMessage, *ErrorBody) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil, &ErrorBody{Code: CodeInvalidMessageFormat, Message: "message must be a JSON object"}
	}
	envelope := &Message{}
	if err := json.Unmarshal(trimmed, envelope); err != nil {
		return nil, nil, &ErrorBody{Code: CodeInvalidMessageFormat, Message: "invalid message format"}
	}
	if envelope.Type == "" {
		return envelope, nil, &ErrorBody{Code: CodeInvalidMessageFormat, Message: "message type is missing"}
	}

	var message ClientMessage
	switch envelope.Type {
	case TypeAuthRequest:
		message = &AuthRequest{}
	case TypeStartChargingRequest:
		message = &StartChargingRequest{}
	case TypeStopChargingRequest:
		message = &StopChargingRequest{}
	case TypeHeartbeat:
		return envelope, &HeartbeatRequest{}, nil
	default:
		return envelope, nil, &ErrorBody{
			Code:    CodeUnknownMessageType,
			Message: "unknown message type: " + envelope.Type,
		}
	}

	data := envelope.Data
	if len(data) == 0 || string(data) == "null" {
		return envelope, nil, &ErrorBody{Code: CodeInvalidRequest, Message: "message data is missing"}
	}
	if err := json.Unmarshal(data, message); err != nil {
		return envelope, nil, &ErrorBody{Code: CodeInvalidRequest, Message: "invalid message data", Details: err.Error()}
	}
	if err := message.validate(); err != nil {
		return envelope, nil, &ErrorBody{Code: CodeInvalidRequest, Message: err.Error()}
	}
	return envelope, message, nil
}

type AuthResponse struct {
	Success      bool   `json:"success"`
	UserId       string `json:"userId,omitempty"`
	SessionId    string `json:"sessionId,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
	Message      string `json:"message"`
}

type StartChargingResponse struct {
	Success       bool   `json:"success"`
	TransactionId *int   `json:"transactionId,omitempty"`
	ConnectorId   int    `json:"connectorId"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

type StopChargingResponse struct {
	Success       bool   `json:"success"`
	TransactionId int    `json:"transactionId"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// NewMessage builds an outgoing frame with a fresh id and the current time.
func NewMessage(messageType string, data interface{}) (*Message, error) {
	message := &Message{
		Id:        utility.NewUUID(),
		Type:      messageType,
		Timestamp: timestamp(time.Now()),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		message.Data = raw
	}
	return message, nil
}

func NewErrorMessage(body *ErrorBody) *Message {
	return &Message{
		Id:        utility.NewUUID(),
		Type:      TypeError,
		Timestamp: timestamp(time.Now()),
		Error:     body,
	}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(types.ISO8601)
}
