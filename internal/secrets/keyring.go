// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package secrets

import (
	"errors"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
	"github.com/zalando/go-keyring"
)

// KeyringStore implements Store on the OS keyring (Keychain, Secret
// Service over D-Bus, Windows Credential Manager).
type KeyringStore struct{}

var _ Store = KeyringStore{}

func checkRef(service, user string) error {
	if service == "" || user == "" {
		return sorcerr.Errorf(sorcerr.CodeSecretInvalidInput, "secret reference needs both service and user, got %q/%q", service, user)
	}
	return nil
}

func (KeyringStore) Set(service, user, value string) error {
	if err := checkRef(service, user); err != nil {
		return err
	}
	if err := keyring.Set(service, user, value); err != nil {
		return sorcerr.Wrapf(err, sorcerr.CodeSecretStoreFailure, "storing secret %s/%s", service, user)
	}
	return nil
}

func (KeyringStore) Get(service, user string) (string, error) {
	if err := checkRef(service, user); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, user)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", sorcerr.Errorf(sorcerr.CodeSecretNotFound, "secret %s/%s not found", service, user)
	case err != nil:
		return "", sorcerr.Wrapf(err, sorcerr.CodeSecretStoreFailure, "reading secret %s/%s", service, user)
	}
	return val, nil
}

func (KeyringStore) Delete(service, user string) (bool, error) {
	if err := checkRef(service, user); err != nil {
		return false, err
	}
	err := keyring.Delete(service, user)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return false, nil
	case err != nil:
		return false, sorcerr.Wrapf(err, sorcerr.CodeSecretStoreFailure, "deleting secret %s/%s", service, user)
	}
	return true, nil
}
