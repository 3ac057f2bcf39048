package encryption

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"travellog/internal/travellog"
)

// testHeader is prepended to data by TestEncryptor so encrypted output is
// clearly different from plaintext while staying deterministic.
var testHeader = []byte("TLENC\x00\x00\x00")

// TestEncryptor is a deterministic encryptor for tests and local
// development. It prepends a fixed header during encryption and strips it
// during decryption. When Setup has been called, Unlock checks the passphrase.
type TestEncryptor struct {
	mu         sync.Mutex
	passphrase string
	unlocks    int
}

var _ travellog.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a new TestEncryptor.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (travellog.DecryptionContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unlocks++
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, fmt.Errorf("incorrect passphrase")
	}
	return &TestDecryptionContext{}, nil
}

// Unlocks returns how many times Unlock was called.
func (e *TestEncryptor) Unlocks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unlocks
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext strips the test header added by TestEncryptor.
type TestDecryptionContext struct{}

var _ travellog.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
