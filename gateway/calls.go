package gateway

import (
	"context"
	"evgateway/ocpp"
	"evgateway/ocpp/core"
	"evgateway/ocpp/remotetrigger"
	"evgateway/types"
	"fmt"
)

func (l *Link) call(ctx context.Context, request ocpp.Request, response ocpp.Response) error {
	payload, err := l.SendCall(ctx, request)
	if err != nil {
		return err
	}
	if err = ocpp.ParseResponse(payload, response); err != nil {
		return fmt.Errorf("decoding %s response: %w", request.GetFeatureName(), err)
	}
	return nil
}

func (l *Link) RemoteStartTransaction(ctx context.Context, connectorId int, idTag string) (*core.RemoteStartTransactionResponse, error) {
	response := &core.RemoteStartTransactionResponse{}
	if err := l.call(ctx, core.NewRemoteStartTransactionRequest(connectorId, idTag), response); err != nil {
		return nil, err
	}
	return response, nil
}

func (l *Link) RemoteStopTransaction(ctx context.Context, transactionId int) (*core.RemoteStopTransactionResponse, error) {
	response := &core.RemoteStopTransactionResponse{}
	if err := l.call(ctx, core.NewRemoteStopTransactionRequest(transactionId), response); err != nil {
		return nil, err
	}
	return response, nil
}

func (l *Link) Heartbeat(ctx context.Context) (*core.HeartbeatResponse, error) {
	response := &core.HeartbeatResponse{}
	if err := l.call(ctx, core.NewHeartbeatRequest(), response); err != nil {
		return nil, err
	}
	return response, nil
}

// TriggerStatusNotification asks for a StatusNotification; nil connector means the whole charge point.
func (l *Link) TriggerStatusNotification(ctx context.Context, connectorId *int) (*remotetrigger.TriggerMessageConfirmation, error) {
	request := remotetrigger.NewTriggerMessageRequest(types.MessageTriggerStatusNotification, connectorId, nil)
	response := &remotetrigger.TriggerMessageConfirmation{}
	if err := l.call(ctx, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (l *Link) TriggerMeterValues(ctx context.Context, connectorId int, transactionId *int) (*remotetrigger.TriggerMessageConfirmation, error) {
	request := remotetrigger.NewTriggerMessageRequest(types.MessageTriggerMeterValues, &connectorId, transactionId)
	response := &remotetrigger.TriggerMessageConfirmation{}
	if err := l.call(ctx, request, response); err != nil {
		return nil, err
	}
	return response, nil
}
