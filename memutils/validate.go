package memutils

// Validatable is implemented by any type that can check its own internal
// consistency. DebugValidate uses it to turn invariant checks on and off
// with the debug_mem_utils build tag without littering call sites with
// conditionals.
type Validatable interface {
	Validate() error
}
