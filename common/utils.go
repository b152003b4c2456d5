package common

import (
	"math/big"
)

// PanicIfEmpty panics if the given string is empty
func PanicIfEmpty(val string, msg string) {
	if val == "" {
		panic(msg)
	}
}

// StringOrNil returns the given string or nil when empty
func StringOrNil(str string) *string {
	if str == "" {
		return nil
	}
	return &str
}

// BigIntOrZero returns the given big int or a fresh zero when nil
func BigIntOrZero(val *big.Int) *big.Int {
	if val == nil {
		return big.NewInt(0)
	}
	return val
}
