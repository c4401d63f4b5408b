// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package consts

import "time"

const (
	// Cache key prefixes. Every cache entry is namespaced by one of these.
	PrefixToken      = "token:"
	PrefixTokenID    = "token_id:"
	PrefixCredential = "credential:"
	PrefixRevoked    = "revoked:"
	PrefixRotation   = "rotation-stats:"

	// Vault path layout. Credential records, the token verification key,
	// and rotation metadata live at separate stable paths.
	VaultCredentialPathFmt = "payment/api/credentials/%s"
	VaultVerificationKey   = "payment/api/keys/token-verification"
	VaultRotationPathFmt   = "payment/api/rotation/%s"
	VaultRotationListPath  = "payment/api/rotation"
	VaultRotationLockFmt   = "payment/api/rotation-lock/%s"

	// HeaderClientID and HeaderClientSecret carry the legacy vendor
	// credentials on inbound requests.
	HeaderClientID      = "X-Client-ID"
	HeaderClientSecret  = "X-Client-Secret"
	HeaderCorrelationID = "X-Correlation-ID"

	DefaultTokenTTL      = 3600 * time.Second
	DefaultCredentialTTL = 900 * time.Second

	// TokenCacheTTLMargin is subtracted from a token's remaining lifetime
	// when computing its cache TTL, so a cache hit can never outlive the
	// token itself.
	TokenCacheTTLMargin = 30 * time.Second
	MinCacheTTL         = 10 * time.Second
)
