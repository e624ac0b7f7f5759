package ocpp

import (
	"encoding/json"
	"evgateway/utility"
	"fmt"
)

type CallType int

const (
	CallTypeRequest CallType = 2
	CallTypeResult  CallType = 3
	CallTypeError   CallType = 4
)

// Frame is any OCPP-J message: Call, CallResult or CallError.
type Frame interface {
	TypeId() CallType
	MessageId() string
}

// Call An OCPP-J Call message, containing an OCPP Request.
type Call struct {
	UniqueId string
	Action   string
	Payload  json.RawMessage
}

func (c *Call) TypeId() CallType   { return CallTypeRequest }
func (c *Call) MessageId() string { return c.UniqueId }

func (c *Call) MarshalJSON() ([]byte, error) {
	payload := c.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return json.Marshal([]interface{}{int(CallTypeRequest), c.UniqueId, c.Action, payload})
}

// NewCall frames the request under the given unique id.
func NewCall(uniqueId string, request Request) (*Call, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", request.GetFeatureName(), err)
	}
	return &Call{
		UniqueId: uniqueId,
		Action:   request.GetFeatureName(),
		Payload:  payload,
	}, nil
}

// CallResult An OCPP-J CallResult message, containing an OCPP Response.
type CallResult struct {
	UniqueId string
	Payload  json.RawMessage
}

func (cr *CallResult) TypeId() CallType   { return CallTypeResult }
func (cr *CallResult) MessageId() string { return cr.UniqueId }

func (cr *CallResult) MarshalJSON() ([]byte, error) {
	payload := cr.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return json.Marshal([]interface{}{int(CallTypeResult), cr.UniqueId, payload})
}

// CallError An OCPP-J CallError message.
type CallError struct {
	UniqueId         string
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

func (ce *CallError) TypeId() CallType   { return CallTypeError }
func (ce *CallError) MessageId() string { return ce.UniqueId }

func (ce *CallError) MarshalJSON() ([]byte, error) {
	details := ce.ErrorDetails
	if len(details) == 0 {
		details = json.RawMessage("{}")
	}
	return json.Marshal([]interface{}{int(CallTypeError), ce.UniqueId, ce.ErrorCode, ce.ErrorDescription, details})
}

// Err converts the frame into the error returned to the caller of the matching Call.
func (ce *CallError) Err() *ProtocolError {
	return &ProtocolError{
		Code:        ce.ErrorCode,
		Description: ce.ErrorDescription,
		Details:     ce.ErrorDetails,
	}
}

// ParseFrame decodes raw bytes into a Call, CallResult or CallError.
func ParseFrame(data []byte) (Frame, error) {
	fields, err := utility.ParseJson(data)
	if err != nil {
		return nil, utility.Errf("message is not a json array: %v", err)
	}
	if len(fields) < 3 {
		return nil, utility.Err("incompatible message structure")
	}
	var typeId int
	if err = json.Unmarshal(fields[0], &typeId); err != nil {
		return nil, utility.Err("invalid message type")
	}
	var uniqueId string
	if err = json.Unmarshal(fields[1], &uniqueId); err != nil {
		return nil, utility.Err("invalid message unique id")
	}

	switch CallType(typeId) {
	case CallTypeRequest:
		if len(fields) != 4 {
			return nil, utility.Err("unsupported request format; expected length: 4 elements")
		}
		var action string
		if err = json.Unmarshal(fields[2], &action); err != nil || action == "" {
			return nil, utility.Err("invalid action in request")
		}
		return &Call{UniqueId: uniqueId, Action: action, Payload: fields[3]}, nil
	case CallTypeResult:
		return &CallResult{UniqueId: uniqueId, Payload: fields[2]}, nil
	case CallTypeError:
		if len(fields) < 4 {
			return nil, utility.Err("unsupported error format; expected at least 4 elements")
		}
		callError := &CallError{UniqueId: uniqueId}
		if err = json.Unmarshal(fields[2], &callError.ErrorCode); err != nil {
			return nil, utility.Err("invalid error code")
		}
		_ = json.Unmarshal(fields[3], &callError.ErrorDescription)
		if len(fields) > 4 {
			callError.ErrorDetails = fields[4]
		}
		return callError, nil
	default:
		return nil, utility.Errf("invalid message type id: %v", typeId)
	}
}
