package session

import (
	"encoding/json"
	"evgateway/internal"
	"evgateway/ocpp"
	"evgateway/ocpp/core"
	"evgateway/types"
	"fmt"
)

// OnCall answers requests the charge point sends over its link.
func (m *Manager) OnCall(chargePointId string, call *ocpp.Call) (ocpp.Response, error) {
	switch call.Action {
	case core.StatusNotificationFeatureName:
		request := &core.StatusNotificationRequest{}
		if err := json.Unmarshal(call.Payload, request); err != nil {
			return nil, &ocpp.ProtocolError{Code: ocpp.ErrorCodeFormationViolation, Description: err.Error()}
		}
		m.logger.FeatureEvent(featureName, chargePointId, fmt.Sprintf("connector %d: %s %s", request.ConnectorId, request.Status, request.ErrorCode))
		m.event(&internal.EventMessage{
			Type:          internal.EventChargePoint,
			ChargePointId: chargePointId,
			ConnectorId:   request.ConnectorId,
			Status:        string(request.Status),
			Info:          request.Info,
		})
		return core.NewStatusNotificationResponse(), nil
	case core.HeartbeatFeatureName:
		return &core.HeartbeatResponse{CurrentTime: types.NewDateTime(m.now())}, nil
	}
	return nil, &ocpp.ProtocolError{Code: ocpp.ErrorCodeNotImplemented, Description: call.Action + " is not handled"}
}
