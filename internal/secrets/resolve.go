// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package secrets

import (
	"strings"

	"github.com/sorcerer-dev/sorcerer/internal/config"
	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

const scheme = "keyring://"

// IsRef reports whether value is a keyring:// reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, scheme)
}

// ParseRef splits keyring://service/user. The user part may contain slashes.
func ParseRef(ref string) (service, user string, err error) {
	if !IsRef(ref) {
		return "", "", sorcerr.Errorf(sorcerr.CodeSecretInvalidInput, "not a keyring reference: %q", ref)
	}
	service, user, ok := strings.Cut(strings.TrimPrefix(ref, scheme), "/")
	if !ok || service == "" || user == "" {
		return "", "", sorcerr.Errorf(sorcerr.CodeSecretInvalidInput, "malformed keyring reference %q, want keyring://service/user", ref)
	}
	return service, user, nil
}

// Resolve returns value unchanged unless it is a keyring reference, in
// which case the referenced secret is returned.
func Resolve(store Store, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	service, user, err := ParseRef(value)
	if err != nil {
		return "", err
	}
	secret, err := store.Get(service, user)
	if err != nil {
		return "", sorcerr.Wrapf(err, sorcerr.CodeSecretResolveFailure, "resolving %s", value)
	}
	return secret, nil
}

// ResolveConfig replaces keyring references in provider and backend API
// keys in place. Every unresolvable reference is reported; resolved ones are
// applied even when others fail.
func ResolveConfig(cfg *config.Config, store Store) error {
	var errs []error

	for name, p := range cfg.Providers {
		key, err := Resolve(store, p.APIKey)
		if err != nil {
			errs = append(errs, sorcerr.Wrapf(err, sorcerr.CodeSecretResolveFailure, "providers.%s.api_key", name))
			continue
		}
		p.APIKey = key
		cfg.Providers[name] = p
	}

	for i := range cfg.Backends {
		key, err := Resolve(store, cfg.Backends[i].APIKey)
		if err != nil {
			errs = append(errs, sorcerr.Wrapf(err, sorcerr.CodeSecretResolveFailure, "backends[%d].api_key", i))
			continue
		}
		cfg.Backends[i].APIKey = key
	}

	return sorcerr.Join(errs...)
}
