package journey

import "fmt"

// ValidationError rejects a header whose wire or text form is malformed:
// an unknown type value, a missing kind, or undecodable bytes.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("journey header: invalid %s", e.Field)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UnsupportedKindError is returned for a custom (non built-in) journey kind.
type UnsupportedKindError struct {
	Custom string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("journey header: custom journey kind %q is not supported", e.Custom)
}
