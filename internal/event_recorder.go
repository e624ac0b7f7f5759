package internal

import "fmt"

// EventRecorder persists events to the database without blocking the caller.
type EventRecorder struct {
	database Database
	logger   LogHandler
	events   chan *EventMessage
}

func NewEventRecorder(database Database, logger LogHandler) *EventRecorder {
	r := &EventRecorder{
		database: database,
		logger:   logger,
		events:   make(chan *EventMessage, 100),
	}
	go r.writer()
	return r
}

func (r *EventRecorder) OnEvent(event *EventMessage) {
	select {
	case r.events <- event:
	default:
		r.logger.Warn(fmt.Sprintf("event queue full, dropping %s event", event.Type))
	}
}

func (r *EventRecorder) writer() {
	for event := range r.events {
		if err := r.database.WriteEvent(event); err != nil {
			r.logger.Error("write event to database failed", err)
		}
	}
}
