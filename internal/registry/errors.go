package registry

import (
	"errors"
	"fmt"
)

// RegistrationError rejects a descriptor before it can reach the serving path.
type RegistrationError struct {
	ID     string
	Reason string
	Err    error
}

func (e *RegistrationError) Error() string {
	msg := fmt.Sprintf("register %q: %s", e.ID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// IsRegistrationError reports whether err is a RegistrationError.
func IsRegistrationError(err error) bool {
	var re *RegistrationError
	return errors.As(err, &re)
}

// IsDuplicate reports whether err rejected an already-registered id.
func IsDuplicate(err error) bool {
	var re *RegistrationError
	return errors.As(err, &re) && re.Reason == reasonDuplicate
}

// ErrNotRegistered is returned for operations on unknown ids.
var ErrNotRegistered = errors.New("model not registered")

const (
	reasonDuplicate   = "id already registered"
	reasonUnreachable = "location unreachable"
	reasonInvalid     = "invalid descriptor"
)
