package internal

import "time"

// Event types recorded for sessions and gateway links.
const (
	EventSessionOpen   = "session_open"
	EventSessionAuth   = "session_auth"
	EventSessionClose  = "session_close"
	EventChargingStart = "charging_start"
	EventChargingStop  = "charging_stop"
	EventLinkState     = "link_state"
	EventChargePoint   = "charge_point_status"
)

type EventHandler interface {
	OnEvent(event *EventMessage)
}

type EventMessage struct {
	Type          string    `json:"type" bson:"type"`
	SessionId     string    `json:"session_id,omitempty" bson:"session_id,omitempty"`
	UserId        string    `json:"user_id,omitempty" bson:"user_id,omitempty"`
	ChargePointId string    `json:"charge_point_id,omitempty" bson:"charge_point_id,omitempty"`
	ConnectorId   int       `json:"connector_id,omitempty" bson:"connector_id,omitempty"`
	TransactionId int       `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
	Status        string    `json:"status,omitempty" bson:"status,omitempty"`
	Info          string    `json:"info,omitempty" bson:"info,omitempty"`
	Time          time.Time `json:"time" bson:"time"`
}

func (e *EventMessage) DataType() string {
	return e.Type
}

// EventHandlers fans an event out to every handler in order.
type EventHandlers []EventHandler

func (h EventHandlers) OnEvent(event *EventMessage) {
	for _, handler := range h {
		handler.OnEvent(event)
	}
}
