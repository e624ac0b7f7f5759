package ocpp

import (
	"encoding/json"
	"errors"
	"testing"
)

type testRequest struct {
	IdTag string `json:"idTag"`
}

func (r testRequest) GetFeatureName() string { return "TestAction" }

func TestCallMarshal(t *testing.T) {
	call, err := NewCall("12", testRequest{IdTag: "abc"})
	if err != nil {
		t.Fatalf("NewCall failed: %v", err)
	}
	data, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `[2,"12","TestAction",{"idTag":"abc"}]` {
		t.Errorf("unexpected frame %s", data)
	}
}

func TestCallErrorMarshalDefaultsDetails(t *testing.T) {
	data, err := json.Marshal(&CallError{UniqueId: "1", ErrorCode: ErrorCodeNotImplemented, ErrorDescription: "no"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `[4,"1","NotImplemented","no",{}]` {
		t.Errorf("unexpected frame %s", data)
	}
}

func TestParseFrameResult(t *testing.T) {
	frame, err := ParseFrame([]byte(`[3,"5",{"status":"Accepted","transactionId":42}]`))
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	result, ok := frame.(*CallResult)
	if !ok {
		t.Fatalf("frame type = %T, want *CallResult", frame)
	}
	if result.MessageId() != "5" {
		t.Errorf("message id = %s", result.MessageId())
	}
	var payload struct {
		Status        string `json:"status"`
		TransactionId int    `json:"transactionId"`
	}
	if err = ParseResponse(result.Payload, &testResponse{}); err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if err = json.Unmarshal(result.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.TransactionId != 42 {
		t.Errorf("transaction id = %d", payload.TransactionId)
	}
}

type testResponse struct {
	Status string `json:"status"`
}

func (r *testResponse) GetFeatureName() string { return "TestAction" }

func TestParseFrameError(t *testing.T) {
	frame, err := ParseFrame([]byte(`[4,"9","NotSupported","unknown action",{"hint":1}]`))
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	callError, ok := frame.(*CallError)
	if !ok {
		t.Fatalf("frame type = %T, want *CallError", frame)
	}
	var protocolErr *ProtocolError
	if !errors.As(callError.Err(), &protocolErr) {
		t.Fatal("expected ProtocolError")
	}
	if protocolErr.Code != ErrorCodeNotSupported || protocolErr.Description != "unknown action" {
		t.Errorf("unexpected error %v", protocolErr)
	}
}

func TestParseFrameCall(t *testing.T) {
	frame, err := ParseFrame([]byte(`[2,"abc","StatusNotification",{"connectorId":1}]`))
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	call, ok := frame.(*Call)
	if !ok {
		t.Fatalf("frame type = %T, want *Call", frame)
	}
	if call.Action != "StatusNotification" || call.TypeId() != CallTypeRequest {
		t.Errorf("unexpected call %+v", call)
	}
}

func TestParseFrameRejectsMalformed(t *testing.T) {
	inputs := []string{
		`{"a":1}`,
		`[3,"1"]`,
		`["x","1",{}]`,
		`[3,1,{}]`,
		`[9,"1",{}]`,
		`[2,"1","Heartbeat"]`,
		`[4,"1","GenericError"]`,
	}
	for _, in := range inputs {
		if _, err := ParseFrame([]byte(in)); err == nil {
			t.Errorf("expected error for %s", in)
		}
	}
}
