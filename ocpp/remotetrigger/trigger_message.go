package remotetrigger

import "evgateway/types"

const TriggerMessageFeatureName = "TriggerMessage"

type TriggerMessageRequest struct {
	RequestedMessage types.MessageTrigger `json:"requestedMessage"`
	ConnectorId      *int                 `json:"connectorId,omitempty"`
	TransactionId    *int                 `json:"transactionId,omitempty"`
}

func (f TriggerMessageRequest) GetFeatureName() string {
	return TriggerMessageFeatureName
}

// NewTriggerMessageRequest builds the request; nil connector or transaction ids are omitted.
func NewTriggerMessageRequest(requestedMessage types.MessageTrigger, connectorId, transactionId *int) *TriggerMessageRequest {
	return &TriggerMessageRequest{
		RequestedMessage: requestedMessage,
		ConnectorId:      connectorId,
		TransactionId:    transactionId,
	}
}

type TriggerMessageConfirmation struct {
	Status types.TriggerMessageStatus `json:"status"`
}

func (f TriggerMessageConfirmation) GetFeatureName() string {
	return TriggerMessageFeatureName
}
