package utility

import (
	"encoding/json"
)

// ParseJson decodes an OCPP-J frame into its raw elements.
func ParseJson(b []byte) ([]json.RawMessage, error) {
	var array []json.RawMessage
	err := json.Unmarshal(b, &array)
	return array, err
}
