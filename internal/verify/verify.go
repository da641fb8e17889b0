// Package verify checks downloaded artifacts before extraction, either
// against a GPG detached signature and keyring or against a SHA256
// checksum file. Verification is integrity-only for checksums and
// authenticity plus integrity for signatures; which method applies is
// declared per package in the manifest.
package verify

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
)

// Method indicates how an artifact was verified.
type Method int

const (
	// MethodNone indicates no verification was requested
	MethodNone Method = iota
	// MethodGPG indicates GPG signature verification
	MethodGPG
	// MethodSHA256 indicates SHA256 checksum verification
	MethodSHA256
)

// String returns the string representation of the method.
func (m Method) String() string {
	switch m {
	case MethodGPG:
		return "GPG"
	case MethodSHA256:
		return "SHA256"
	case MethodNone:
		return "None"
	default:
		return "Unknown"
	}
}

// GPG verifies artifactPath against a detached signature using the keys
// in keyringPath. Armored and binary forms are accepted for both the
// keyring and the signature.
func GPG(artifactPath, signaturePath, keyringPath string) error {
	keyring, err := loadKeyring(keyringPath)
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}

	artifact, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer artifact.Close()

	sig, err := os.Open(signaturePath)
	if err != nil {
		return fmt.Errorf("open signature: %w", err)
	}
	defer sig.Close()

	// Try armored first, then binary
	_, err = openpgp.CheckArmoredDetachedSignature(keyring, artifact, sig, nil)
	if err != nil {
		artifact.Seek(0, io.SeekStart)
		sig.Seek(0, io.SeekStart)
		_, err = openpgp.CheckDetachedSignature(keyring, artifact, sig, nil)
	}
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}

	return nil
}

// SHA256 verifies artifactPath against the entry matching its filename
// in a checksum file of "hash  filename" lines.
func SHA256(artifactPath, checksumPath string) error {
	actual, err := hashFile(artifactPath)
	if err != nil {
		return fmt.Errorf("calculate checksum: %w", err)
	}

	expected, err := findChecksum(checksumPath, filepath.Base(artifactPath))
	if err != nil {
		return fmt.Errorf("find checksum: %w", err)
	}

	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("checksum mismatch:\nactual:   %s\nexpected: %s", actual, expected)
	}

	return nil
}

// loadKeyring loads a GPG keyring from disk, accepting armored and
// binary formats.
func loadKeyring(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer f.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		f.Seek(0, io.SeekStart)
		keyring, err = openpgp.ReadKeyRing(f)
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}

	return keyring, nil
}

// hashFile calculates the SHA256 checksum of a file.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// findChecksum finds the checksum for a specific filename in a checksum
// file. Entries may carry paths; the basename is compared as a
// fallback.
func findChecksum(checksumPath, filename string) (string, error) {
	f, err := os.Open(checksumPath)
	if err != nil {
		return "", fmt.Errorf("open checksum file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 {
			continue
		}

		if parts[1] == filename || filepath.Base(parts[1]) == filename {
			return parts[0], nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan checksum file: %w", err)
	}

	return "", fmt.Errorf("checksum not found for %s", filename)
}
