package session

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseClientMessageVariants(t *testing.T) {
	_, message, errBody := ParseClientMessage([]byte(`{"id":"1","type":"start_charging_request","timestamp":"2024-01-01T00:00:00Z","data":{"chargePointId":"CP1","connectorId":0,"idTag":"tag"}}`))
	if errBody != nil {
		t.Fatalf("unexpected error %v", errBody)
	}
	start, ok := message.(*StartChargingRequest)
	if !ok {
		t.Fatalf("variant = %T", message)
	}
	if start.ChargePointId != "CP1" || *start.ConnectorId != 0 || start.IdTag != "tag" {
		t.Errorf("unexpected request %+v", start)
	}

	_, message, errBody = ParseClientMessage([]byte(`{"id":"2","type":"stop_charging_request","data":{"chargePointId":"CP1","transactionId":7}}`))
	if errBody != nil {
		t.Fatalf("unexpected error %v", errBody)
	}
	stop := message.(*StopChargingRequest)
	if *stop.TransactionId != 7 || stop.Reason != "" {
		t.Errorf("unexpected request %+v", stop)
	}

	_, message, errBody = ParseClientMessage([]byte(` {"type":"heartbeat"}`))
	if errBody != nil || message.MessageType() != TypeHeartbeat {
		t.Errorf("heartbeat not parsed: %v %v", message, errBody)
	}
}

func TestParseClientMessageNegativeConnector(t *testing.T) {
	_, _, errBody := ParseClientMessage([]byte(`{"type":"start_charging_request","data":{"chargePointId":"CP1","connectorId":-1,"idTag":"tag"}}`))
	if errBody == nil || errBody.Code != CodeInvalidRequest {
		t.Errorf("expected INVALID_REQUEST, got %v", errBody)
	}
}

func TestErrorMessageShape(t *testing.T) {
	data, err := json.Marshal(NewErrorMessage(&ErrorBody{Code: CodeNotAuthorized, Message: "no"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	for _, part := range []string{`"type":"error"`, `"error":{"code":"NOT_AUTHORIZED","message":"no"}`, `"timestamp":"`} {
		if !strings.Contains(s, part) {
			t.Errorf("%s missing %s", s, part)
		}
	}
	if strings.Contains(s, `"data"`) {
		t.Errorf("error frame must not carry data: %s", s)
	}
}
