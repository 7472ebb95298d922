package config

import (
	"fmt"

	"github.com/99designs/keyring"
)

const (
	keyringService = "mailbox"
	keyringKeyName = "encryption-key"
)

func openKeyring(configDir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  configDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("mailbox-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func keyringGet(configDir string) (string, error) {
	ring, err := openKeyring(configDir)
	if err != nil {
		return "", err
	}

	item, err := ring.Get(keyringKeyName)
	if err != nil {
		return "", fmt.Errorf("getting %q from keyring: %w", keyringKeyName, err)
	}
	return string(item.Data), nil
}

func keyringSet(configDir, value string) error {
	ring, err := openKeyring(configDir)
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  keyringKeyName,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting %q in keyring: %w", keyringKeyName, err)
	}
	return nil
}
