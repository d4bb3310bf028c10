package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is returned from CheckPow2 when the value under test is not
// a power of two.
var PowerOfTwoError error = errors.New("value must be a power of two")
