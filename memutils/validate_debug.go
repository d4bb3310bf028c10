//go:build debug_mem_utils

package memutils

// DebugValidate calls Validate and panics if it returns an error. It is a
// no-op unless built with the debug_mem_utils tag, since Validate can be
// expensive on large region lists.
func DebugValidate(v Validatable) {
	if err := v.Validate(); err != nil {
		panic(err)
	}
}

// DebugCheckPow2 panics if value is not a power of two. No-op without the
// debug_mem_utils build tag.
func DebugCheckPow2[T Number](value T, name string) {
	if err := CheckPow2[T](value, name); err != nil {
		panic(err)
	}
}
