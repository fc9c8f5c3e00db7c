package util

import (
	"crypto/rand"
	"encoding/hex"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewAccessKey returns a long random key handed to anonymous reporters.
// It is shown exactly once; only a hash is stored.
func NewAccessKey() string {
	bytes := make([]byte, 24)
	_, _ = rand.Read(bytes)
	return "rpt_" + hex.EncodeToString(bytes)
}
