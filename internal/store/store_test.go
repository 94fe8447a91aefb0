package store

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"introskip/internal/crypto"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(":memory:", opts...)
	if err != nil {
		t.Fatalf("New(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	enc, err := crypto.NewEncryptor(key)
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

func testFilePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "introskip.db")
}

func TestNew(t *testing.T) {
	newTestStore(t)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)

	if err := s.Ping(); err != nil {
		t.Fatalf("Ping() failed: %v", err)
	}
}

func TestPingAfterClose(t *testing.T) {
	s := newTestStore(t)
	s.Close()

	if err := s.Ping(); err == nil {
		t.Fatal("expected Ping() to fail after Close()")
	}
}

func TestHasEncryptor(t *testing.T) {
	if newTestStore(t).HasEncryptor() {
		t.Fatal("plain store must not report an encryptor")
	}
	if !newTestStore(t, WithEncryptor(testEncryptor(t))).HasEncryptor() {
		t.Fatal("expected encryptor with WithEncryptor")
	}
	if !newTestStore(t, WithPassphrase("hunter2")).HasEncryptor() {
		t.Fatal("expected encryptor with WithPassphrase")
	}
}
