// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package vaultclient

import (
	"crypto/x509"
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"

	"github.com/payment-platform/authgate/internal/config"
)

// makeAPIClient creates a vault api.Client from the gateway's vault
// configuration, wiring the CA certificate when one is configured.
func makeAPIClient(cfg config.Vault) (*api.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("vault URL was empty")
	}

	var caBytes []byte
	if cfg.SSLCertificatePath != "" {
		b, err := os.ReadFile(cfg.SSLCertificatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read vault CA certificate %q: %w",
				cfg.SSLCertificatePath, err)
		}

		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("no valid certificates found in %q", cfg.SSLCertificatePath)
		}
		caBytes = b
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.URL
	if caBytes != nil {
		if err := apiCfg.ConfigureTLS(&api.TLSConfig{CACertBytes: caBytes}); err != nil {
			return nil, err
		}
	}

	// Retries are owned by this package's backoff loop, not the api client.
	apiCfg.MaxRetries = 0

	c, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("error setting up vault API client: %w", err)
	}
	return c, nil
}
