// Package sovd validates diagnostic command parameters before a command is
// ever inserted or dispatched to a vehicle. It performs no I/O and has no
// dependency on ent or net/http — every check is a pure function of its
// inputs, so it can run in the request-handling goroutine without a
// database round trip.
package sovd

import "regexp"

var (
	ecuAddressPattern = regexp.MustCompile(`^0x[0-9A-Fa-f]{2}$`)
	dtcCodePattern    = regexp.MustCompile(`^P[0-9A-Fa-f]{4}$`)
	dataIDPattern     = regexp.MustCompile(`^0x[0-9A-Fa-f]{4}$`)
)

// Validate checks params for the named command and returns a
// *ValidationError describing the first problem found, or nil if params are
// acceptable. Unknown command names are a validation error, not a 404 — the
// caller never reaches C4 with a command it doesn't recognize.
func Validate(name string, params map[string]any) error {
	switch name {
	case "ReadDTC":
		return validateReadDTC(params)
	case "ClearDTC":
		return validateClearDTC(params)
	case "ReadDataByID":
		return validateReadDataByID(params)
	default:
		return newValidationError("command_name", "unknown command: "+name)
	}
}

func validateReadDTC(params map[string]any) error {
	if err := requireECUAddress(params); err != nil {
		return err
	}
	return nil
}

func validateClearDTC(params map[string]any) error {
	if err := requireECUAddress(params); err != nil {
		return err
	}
	raw, present := params["dtcCode"]
	if !present {
		return nil
	}
	code, ok := raw.(string)
	if !ok || !dtcCodePattern.MatchString(code) {
		return newValidationError("dtcCode", "must match P followed by 4 hex digits")
	}
	return nil
}

func validateReadDataByID(params map[string]any) error {
	if err := requireECUAddress(params); err != nil {
		return err
	}
	raw, present := params["dataId"]
	if !present {
		return newValidationError("dataId", "is required")
	}
	dataID, ok := raw.(string)
	if !ok || !dataIDPattern.MatchString(dataID) {
		return newValidationError("dataId", "must match 0x followed by 4 hex digits")
	}
	return nil
}

// requireECUAddress validates the ecuAddress parameter shared by every
// command in the set.
func requireECUAddress(params map[string]any) error {
	raw, present := params["ecuAddress"]
	if !present {
		return newValidationError("ecuAddress", "is required")
	}
	addr, ok := raw.(string)
	if !ok || !ecuAddressPattern.MatchString(addr) {
		return newValidationError("ecuAddress", "must match 0x followed by 2 hex digits")
	}
	return nil
}
