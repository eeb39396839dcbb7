// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package secrets resolves credentials referenced from configuration as
// keyring://service/user URIs.
package secrets

// Store is a service/user keyed secret store.
type Store interface {
	Set(service, user, value string) error
	// Get fails with a not_found code when nothing is stored.
	Get(service, user string) (string, error)
	// Delete reports whether a secret was removed.
	Delete(service, user string) (bool, error)
}
