package testutil

import (
	"travellog/internal/encryption"
	"travellog/internal/travellog"
)

// NewTestEncryptor creates a reversible, key-less encryptor for testing.
func NewTestEncryptor() travellog.Encryptor {
	return encryption.NewTestEncryptor()
}
