// Package jsonutil wraps the JSON codec used across the orchestration core.
package jsonutil

import (
	"github.com/bytedance/sonic"
)

// Marshal serializes a value to JSON bytes.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal parses JSON bytes into the given value.
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}
