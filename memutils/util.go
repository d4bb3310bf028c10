package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

// Number is any integer type accepted by CheckPow2, AlignUp and AlignDown.
type Number interface {
	~int | ~uint | ~int64 | ~uint64
}

// CheckPow2 returns PowerOfTwoError (wrapped with name and value) if number
// is not a power of two. Zero is not a power of two.
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the nearest multiple of alignment. alignment
// must be a power of two.
func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

// AlignDown rounds value down to the nearest multiple of alignment.
// alignment must be a power of two.
func AlignDown[T Number](value T, alignment T) T {
	return value & ^(alignment - 1)
}

// NextPow2 rounds value up to the next power of two. Values <= 1 return 1.
func NextPow2[T Number](value T) T {
	if value <= 1 {
		return 1
	}
	result := T(1)
	for result < value {
		result <<= 1
	}
	return result
}
