package internal

import "evgateway/models"

type Database interface {
	WriteLogMessage(data Data) error
	WriteEvent(event *EventMessage) error
	ReadEvents(limit int64) ([]EventMessage, error)
	GetSubscriptions() ([]models.UserSubscription, error)
	AddSubscription(subscription *models.UserSubscription) error
	DeleteSubscription(subscription *models.UserSubscription) error
}

type Data interface {
	DataType() string
}
