// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
)

// keyfileSuffix is the extension for agent private key files.
const keyfileSuffix = ".key"

// KeyfilePath returns the path of the named agent's private key file
// under the key directory.
func KeyfilePath(keyDir, name string) string {
	return filepath.Join(keyDir, name+keyfileSuffix)
}

// SaveKeyfile writes an agent's private key to the key directory with
// 0600 permissions, creating the directory (0700) if needed. Refuses
// to overwrite an existing keyfile — a lost private key means creating
// a new identity, not silently replacing proof material.
func SaveKeyfile(keyDir, name string, private ed25519.PrivateKey) (string, error) {
	if len(private) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("identity: private key is %d bytes, want %d", len(private), ed25519.PrivateKeySize)
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return "", fmt.Errorf("identity: creating key directory: %w", err)
	}

	path := KeyfilePath(keyDir, name)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("identity: keyfile %s already exists", path)
	}

	if err := os.WriteFile(path, private, 0600); err != nil {
		return "", fmt.Errorf("identity: writing keyfile: %w", err)
	}
	return path, nil
}

// LoadKeyfile reads an agent's private key from the key directory.
// Returns an error for a missing file or an unexpected size.
func LoadKeyfile(keyDir, name string) (ed25519.PrivateKey, error) {
	path := KeyfilePath(keyDir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: reading keyfile: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: keyfile %s has %d bytes, want %d", path, len(raw), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(raw), nil
}

// RemoveKeyfile deletes the named agent's keyfile. Missing files are
// not an error — the agent may keep its key on another machine.
func RemoveKeyfile(keyDir, name string) error {
	err := os.Remove(KeyfilePath(keyDir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("identity: removing keyfile: %w", err)
	}
	return nil
}
