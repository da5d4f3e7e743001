package secrets

import (
	"bytes"
	"testing"
)

func TestSealOpen(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		sealed, err := Seal([]byte("dav password"), "correct horse")
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		if bytes.Contains(sealed, []byte("dav password")) {
			t.Error("sealed output contains plaintext")
		}

		got, err := Open(sealed, "correct horse")
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if string(got) != "dav password" {
			t.Errorf("Open() = %q, want original plaintext", got)
		}
	})

	t.Run("wrong passphrase fails", func(t *testing.T) {
		sealed, err := Seal([]byte("dav password"), "correct horse")
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		if _, err := Open(sealed, "battery staple"); err == nil {
			t.Error("Open() with wrong passphrase expected error, got nil")
		}
	})

	t.Run("garbage ciphertext fails", func(t *testing.T) {
		if _, err := Open([]byte("not an age file"), "pass"); err == nil {
			t.Error("Open() on garbage expected error, got nil")
		}
	})
}
