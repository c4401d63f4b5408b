// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package options

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvOptions are the supported environment variable options, prefixed with
// AUTHGATE. The names of the variables in the struct are split using camel
// case: EnvOptions.TokenTTL = AUTHGATE_TOKEN_TTL
type EnvOptions struct {
	// ListenAddr is the AUTHGATE_LISTEN_ADDR environment variable option
	ListenAddr string `split_words:"true"`

	// TokenTTL is the AUTHGATE_TOKEN_TTL environment variable option
	TokenTTL time.Duration `split_words:"true"`

	// TokenIssuer is the AUTHGATE_TOKEN_ISSUER environment variable option
	TokenIssuer string `split_words:"true"`

	// TokenAudience is the AUTHGATE_TOKEN_AUDIENCE environment variable option
	TokenAudience string `split_words:"true"`

	// TokenAlgorithm is the AUTHGATE_TOKEN_ALGORITHM environment variable option
	TokenAlgorithm string `split_words:"true"`

	// RedisAddr is the AUTHGATE_REDIS_ADDR environment variable option
	RedisAddr string `split_words:"true"`

	// RedisPassword is the AUTHGATE_REDIS_PASSWORD environment variable option
	RedisPassword string `split_words:"true"`

	// RedisDB is the AUTHGATE_REDIS_DB environment variable option
	RedisDB *int `split_words:"true"`

	// CacheTokenTTL is the AUTHGATE_CACHE_TOKEN_TTL environment variable option
	CacheTokenTTL time.Duration `split_words:"true"`

	// CacheCredentialTTL is the AUTHGATE_CACHE_CREDENTIAL_TTL environment
	// variable option
	CacheCredentialTTL time.Duration `split_words:"true"`

	// VaultURL is the AUTHGATE_VAULT_URL environment variable option
	VaultURL string `split_words:"true"`

	// VaultAccount is the AUTHGATE_VAULT_ACCOUNT environment variable option
	VaultAccount string `split_words:"true"`

	// VaultAuthLogin is the AUTHGATE_VAULT_AUTH_LOGIN environment variable option
	VaultAuthLogin string `split_words:"true"`

	// VaultSSLCertificatePath is the AUTHGATE_VAULT_SSL_CERTIFICATE_PATH
	// environment variable option
	VaultSSLCertificatePath string `split_words:"true"`

	// VaultRetryCount is the AUTHGATE_VAULT_RETRY_COUNT environment variable option
	VaultRetryCount *int `split_words:"true"`

	// VaultRetryMultiplier is the AUTHGATE_VAULT_RETRY_MULTIPLIER
	// environment variable option
	VaultRetryMultiplier *float64 `split_words:"true"`

	// VaultRetryInitialDelay is the AUTHGATE_VAULT_RETRY_INITIAL_DELAY
	// environment variable option
	VaultRetryInitialDelay time.Duration `split_words:"true"`

	// RotationTransitionPeriod is the AUTHGATE_ROTATION_TRANSITION_PERIOD
	// environment variable option
	RotationTransitionPeriod time.Duration `split_words:"true"`

	// RotationCheckInterval is the AUTHGATE_ROTATION_CHECK_INTERVAL
	// environment variable option
	RotationCheckInterval time.Duration `split_words:"true"`

	// AuthRequestDeadline is the AUTHGATE_AUTH_REQUEST_DEADLINE environment
	// variable option
	AuthRequestDeadline time.Duration `split_words:"true"`
}

// Parse environment variable options, prefixed with "AUTHGATE_"
func (c *EnvOptions) Parse() error {
	return envconfig.Process("authgate", c)
}
