package ocpp

import (
	"encoding/json"
	"fmt"
)

// Error codes defined by OCPP-J 1.6 for CallError frames.
const (
	ErrorCodeNotImplemented                = "NotImplemented"
	ErrorCodeNotSupported                  = "NotSupported"
	ErrorCodeInternalError                 = "InternalError"
	ErrorCodeProtocolError                 = "ProtocolError"
	ErrorCodeSecurityError                 = "SecurityError"
	ErrorCodeFormationViolation            = "FormationViolation"
	ErrorCodePropertyConstraintViolation   = "PropertyConstraintViolation"
	ErrorCodeOccurrenceConstraintViolation = "OccurenceConstraintViolation"
	ErrorCodeTypeConstraintViolation       = "TypeConstraintViolation"
	ErrorCodeGenericError                  = "GenericError"
)

// ProtocolError is returned when the charge point answers a Call with a CallError.
type ProtocolError struct {
	Code        string
	Description string
	Details     json.RawMessage
}

func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("ocpp error %s", e.Code)
	}
	return fmt.Sprintf("ocpp error %s: %s", e.Code, e.Description)
}
