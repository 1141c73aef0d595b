package attachment

import (
	"fmt"
	"strings"
)

// Validation inspects an attachment's pending state during assignment.
// Failures land in the attachment's Errors collection; an invalid assignment
// stages no writes and queues no deletes.
type Validation func(a *Attachment) error

// ValidatePresence requires a file to be assigned.
func ValidatePresence() Validation {
	return func(a *Attachment) error {
		if !a.meta.Present() {
			return fmt.Errorf("%s must be attached", a.def.spec.Name)
		}
		return nil
	}
}

// ValidateContentType restricts the assigned content type. Entries ending in
// "/*" match any subtype, e.g. "image/*".
func ValidateContentType(allowed ...string) Validation {
	return func(a *Attachment) error {
		if !a.meta.Present() {
			return nil
		}
		ct := a.meta.ContentType
		for _, want := range allowed {
			if prefix, ok := strings.CutSuffix(want, "/*"); ok {
				if strings.HasPrefix(ct, prefix+"/") {
					return nil
				}
			} else if ct == want {
				return nil
			}
		}
		return fmt.Errorf("%s content type %q is not allowed", a.def.spec.Name, ct)
	}
}

// ValidateSize bounds the assigned file size in bytes. A zero max means
// unbounded above.
func ValidateSize(min, max int64) Validation {
	return func(a *Attachment) error {
		if !a.meta.Present() {
			return nil
		}
		size := a.meta.FileSize
		if size < min {
			return fmt.Errorf("%s is too small (%d bytes, minimum %d)", a.def.spec.Name, size, min)
		}
		if max > 0 && size > max {
			return fmt.Errorf("%s is too large (%d bytes, maximum %d)", a.def.spec.Name, size, max)
		}
		return nil
	}
}
