package verify

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// signArtifact generates a fresh key pair, writes the public keyring
// and a detached signature over artifact, and returns their paths.
func signArtifact(t *testing.T, dir string, artifact []byte) (keyringPath, sigPath string) {
	t.Helper()

	entity, err := openpgp.NewEntity("Forage Test", "", "test@example.invalid", nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var pub bytes.Buffer
	if err := entity.Serialize(&pub); err != nil {
		t.Fatalf("serialize public key: %v", err)
	}
	keyringPath = filepath.Join(dir, "test.gpg")
	if err := os.WriteFile(keyringPath, pub.Bytes(), 0644); err != nil {
		t.Fatalf("write keyring: %v", err)
	}

	var sig bytes.Buffer
	if err := openpgp.DetachSign(&sig, entity, bytes.NewReader(artifact), nil); err != nil {
		t.Fatalf("sign artifact: %v", err)
	}
	sigPath = filepath.Join(dir, "artifact.sig")
	if err := os.WriteFile(sigPath, sig.Bytes(), 0644); err != nil {
		t.Fatalf("write signature: %v", err)
	}

	return keyringPath, sigPath
}

func TestGPG(t *testing.T) {
	dir := t.TempDir()
	artifact := []byte("artifact bytes under signature")

	artifactPath := filepath.Join(dir, "artifact.tar.gz")
	if err := os.WriteFile(artifactPath, artifact, 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	keyringPath, sigPath := signArtifact(t, dir, artifact)

	t.Run("valid_signature", func(t *testing.T) {
		if err := GPG(artifactPath, sigPath, keyringPath); err != nil {
			t.Errorf("expected valid signature, got: %v", err)
		}
	})

	t.Run("tampered_artifact", func(t *testing.T) {
		tamperedPath := filepath.Join(dir, "tampered.tar.gz")
		if err := os.WriteFile(tamperedPath, []byte("different bytes"), 0644); err != nil {
			t.Fatalf("write tampered artifact: %v", err)
		}
		if err := GPG(tamperedPath, sigPath, keyringPath); err == nil {
			t.Error("expected verification failure for tampered artifact")
		}
	})

	t.Run("missing_signature", func(t *testing.T) {
		if err := GPG(artifactPath, filepath.Join(dir, "absent.sig"), keyringPath); err == nil {
			t.Error("expected error for missing signature")
		}
	})

	t.Run("missing_keyring", func(t *testing.T) {
		if err := GPG(artifactPath, sigPath, filepath.Join(dir, "absent.gpg")); err == nil {
			t.Error("expected error for missing keyring")
		}
	})

	t.Run("empty_keyring", func(t *testing.T) {
		emptyPath := filepath.Join(dir, "empty.gpg")
		if err := os.WriteFile(emptyPath, nil, 0644); err != nil {
			t.Fatalf("write empty keyring: %v", err)
		}
		if err := GPG(artifactPath, sigPath, emptyPath); err == nil {
			t.Error("expected error for empty keyring")
		}
	})
}

func TestSHA256(t *testing.T) {
	dir := t.TempDir()
	content := []byte("checksum me")
	artifactPath := filepath.Join(dir, "pkg.tar.gz")
	if err := os.WriteFile(artifactPath, content, 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	sum := sha256.Sum256(content)
	goodSum := hex.EncodeToString(sum[:])

	tests := []struct {
		name     string
		checksum string
		wantErr  bool
	}{
		{
			name:     "exact_match",
			checksum: fmt.Sprintf("%s  pkg.tar.gz\n", goodSum),
		},
		{
			name:     "path_prefixed_entry",
			checksum: fmt.Sprintf("%s  ./release/pkg.tar.gz\n", goodSum),
		},
		{
			name:     "uppercase_hash",
			checksum: fmt.Sprintf("%s  pkg.tar.gz\n", bytes.ToUpper([]byte(goodSum))),
		},
		{
			name:     "malformed_lines_skipped",
			checksum: fmt.Sprintf("garbage\n\n%s  pkg.tar.gz\n", goodSum),
		},
		{
			name:     "mismatch",
			checksum: fmt.Sprintf("%064d  pkg.tar.gz\n", 0),
			wantErr:  true,
		},
		{
			name:     "entry_missing",
			checksum: fmt.Sprintf("%s  other.tar.gz\n", goodSum),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checksumPath := filepath.Join(t.TempDir(), "checksums.txt")
			if err := os.WriteFile(checksumPath, []byte(tt.checksum), 0644); err != nil {
				t.Fatalf("write checksum file: %v", err)
			}

			err := SHA256(artifactPath, checksumPath)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestMethodString(t *testing.T) {
	tests := []struct {
		method Method
		want   string
	}{
		{MethodNone, "None"},
		{MethodGPG, "GPG"},
		{MethodSHA256, "SHA256"},
		{Method(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.method.String(); got != tt.want {
			t.Errorf("Method(%d).String() = %q, want %q", tt.method, got, tt.want)
		}
	}
}
