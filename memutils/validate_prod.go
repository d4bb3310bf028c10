//go:build !debug_mem_utils

package memutils

// DebugValidate is a no-op in production builds. See validate_debug.go.
func DebugValidate(v Validatable) {}

// DebugCheckPow2 is a no-op in production builds. See validate_debug.go.
func DebugCheckPow2[T Number](value T, name string) {}
