package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDateTimeMarshal(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 20, 30, 456000000, time.FixedZone("CET", 3600))
	data, err := json.Marshal(NewDateTime(ts))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"2024-03-01T09:20:30.456Z"` {
		t.Errorf("got %s", data)
	}
}

func TestDateTimeZeroIsNull(t *testing.T) {
	data, err := json.Marshal(&DateTime{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("got %s, want null", data)
	}
}

func TestDateTimeUnmarshal(t *testing.T) {
	var dt DateTime
	if err := json.Unmarshal([]byte(`"2024-03-01T09:20:30Z"`), &dt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if dt.Hour() != 9 || dt.Minute() != 20 {
		t.Errorf("unexpected time %v", dt.Time)
	}
	if err := json.Unmarshal([]byte(`"yesterday"`), &dt); err == nil {
		t.Error("expected error for invalid timestamp")
	}
}
