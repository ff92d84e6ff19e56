package satcat5

import "errors"

// ValidateFlags controls optional, stricter checks in a Frame's
// ValidateExceptCRC method.
type ValidateFlags uint8

const (
	// ValidateEvilBit checks the reserved "evil bit" of RFC 3514.
	ValidateEvilBit ValidateFlags = 1 << iota
)

// Validator accumulates zero or more errors found while validating a frame's
// header fields. A single Validator is typically reused across the whole
// ingress pipeline: each layer's ValidateSize/ValidateExceptCRC call adds to
// it, and the switch/router inspects HasError once after parsing instead of
// branching on every individual field.
type Validator struct {
	flags ValidateFlags
	errs  []error
}

// NewValidator returns a Validator with the given flags set.
func NewValidator(flags ValidateFlags) Validator {
	return Validator{flags: flags}
}

// Flags returns the flags this Validator was configured with.
func (v *Validator) Flags() ValidateFlags { return v.flags }

// AddError appends err to the accumulated error list.
func (v *Validator) AddError(err error) {
	if err != nil {
		v.errs = append(v.errs, err)
	}
}

// HasError reports whether any error has been accumulated.
func (v *Validator) HasError() bool { return len(v.errs) > 0 }

// ErrPop returns the oldest accumulated error and removes it, or nil if
// none remain.
func (v *Validator) ErrPop() error {
	if len(v.errs) == 0 {
		return nil
	}
	err := v.errs[0]
	v.errs = v.errs[1:]
	return err
}

// Err returns all accumulated errors joined, or nil if none.
func (v *Validator) Err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return errors.Join(v.errs...)
}

// Reset discards all accumulated errors, readying the Validator for reuse.
func (v *Validator) Reset() { v.errs = v.errs[:0] }
