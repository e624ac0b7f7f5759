package remotetrigger

import (
	"encoding/json"
	"evgateway/types"
	"testing"
)

func TestTriggerMessageRequestOptionalFields(t *testing.T) {
	data, err := json.Marshal(NewTriggerMessageRequest(types.MessageTriggerStatusNotification, nil, nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"requestedMessage":"StatusNotification"}` {
		t.Errorf("got %s", data)
	}

	connectorId, transactionId := 1, 77
	data, _ = json.Marshal(NewTriggerMessageRequest(types.MessageTriggerMeterValues, &connectorId, &transactionId))
	if string(data) != `{"requestedMessage":"MeterValues","connectorId":1,"transactionId":77}` {
		t.Errorf("got %s", data)
	}
}
