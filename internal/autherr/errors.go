// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package autherr defines the error taxonomy shared by all authgate
// components. Backend failures are translated to one of these sentinels at
// component edges; outer handlers map them to HTTP statuses with
// HTTPStatus().
package autherr

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidInput is returned for empty or malformed client IDs,
	// secrets, and token strings. Not a security event.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials is returned when a presented secret was checked
	// against the vault record and did not match. Deliberately
	// indistinguishable from an unknown client.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMissingCredentials is returned when the credential headers are
	// absent or blank.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrUnauthenticated is returned for absent, expired, revoked, or
	// badly signed tokens.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrVaultUnavailable indicates the vault backend could not be reached
	// within the retry budget. Triggers the cached-credential fallback;
	// surfaced to callers only when the fallback also fails.
	ErrVaultUnavailable = errors.New("vault unavailable")

	// ErrVaultAuth indicates the vault rejected our own authentication.
	ErrVaultAuth = errors.New("vault authentication failed")

	// ErrNotFound indicates the requested record does not exist in the
	// vault. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent write was detected by the vault's
	// check-and-set, or an advisory lock is held by another owner.
	ErrConflict = errors.New("conflict")

	// ErrCacheUnavailable indicates a cache backend failure. Never surfaced
	// to callers; the cache degrades to a miss.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrTimeout indicates the inbound request exceeded its wall-clock
	// budget. The request fails closed.
	ErrTimeout = errors.New("timeout")

	// ErrRotationConflict is returned when a rotation is already in
	// progress for the client. Operators retry after the current rotation
	// settles.
	ErrRotationConflict = errors.New("rotation already in progress")

	// ErrInternal covers anything unclassified. Details are redacted from
	// response bodies and go to the structured log instead.
	ErrInternal = errors.New("internal error")
)

// HTTPStatus maps a taxonomy error to the status code the outer handlers
// return. Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMissingCredentials):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRotationConflict), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrVaultUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the generic response body text for err. Anything outside
// the taxonomy collapses to the ErrInternal message so that internals never
// leak to callers.
func Message(err error) string {
	for _, e := range []error{
		ErrInvalidInput, ErrInvalidCredentials, ErrMissingCredentials,
		ErrUnauthenticated, ErrVaultUnavailable, ErrNotFound, ErrConflict,
		ErrTimeout, ErrRotationConflict,
	} {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return ErrInternal.Error()
}
