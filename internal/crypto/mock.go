package crypto

import (
	"context"
	"strings"
)

// MockEncryptor implements Encryptor for tests. Values are prefixed with
// "mock:" so stored ciphertext is recognisable.
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (m *MockEncryptor) Encrypt(_ context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return "mock:" + plaintext, nil
}

func (m *MockEncryptor) Decrypt(_ context.Context, ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, "mock:"), nil
}
