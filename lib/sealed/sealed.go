// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// Identity is an age x25519 identity used to seal and open records.
type Identity struct {
	identity *age.X25519Identity
}

// GenerateIdentity creates a fresh x25519 identity.
func GenerateIdentity() (*Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	return &Identity{identity: identity}, nil
}

// ParseIdentity parses an AGE-SECRET-KEY-1... string.
func ParseIdentity(secretKey string) (*Identity, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(secretKey))
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}
	return &Identity{identity: identity}, nil
}

// LoadIdentity reads an age identity file. The file must contain
// exactly one x25519 identity; comment lines are allowed.
func LoadIdentity(path string) (*Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening identity file: %w", err)
	}
	defer file.Close()

	identities, err := age.ParseIdentities(file)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	if len(identities) != 1 {
		return nil, fmt.Errorf("identity file %s holds %d identities, want 1", path, len(identities))
	}
	identity, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("identity file %s does not hold an x25519 identity", path)
	}
	return &Identity{identity: identity}, nil
}

// WriteIdentityFile writes the identity to path with owner-only
// permissions. It refuses to overwrite an existing file.
func WriteIdentityFile(path string, identity *Identity) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	content := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity.identity.String())
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		return fmt.Errorf("writing identity file: %w", err)
	}
	return file.Close()
}

// Recipient returns the age1... public key for this identity.
func (i *Identity) Recipient() string {
	return i.identity.Recipient().String()
}

// Seal encrypts plaintext to the given age1... recipients.
func Seal(plaintext []byte, recipientKeys ...string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Open decrypts ciphertext produced by Seal.
func Open(ciphertext []byte, identity *Identity) ([]byte, error) {
	if identity == nil {
		return nil, fmt.Errorf("no identity to open sealed data")
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}
