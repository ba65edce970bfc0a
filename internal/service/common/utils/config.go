/*
SPDX-FileCopyrightText: Dimpact

SPDX-License-Identifier: EUPL-1.2
*/

package utils

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// TLSConfig defines the attributes used for outbound TLS sessions to
// subscriber callbacks and OAuth token endpoints.
type TLSConfig struct {
	ClientCertFile string
	ClientKeyFile  string
	CABundleFile   string
}

// ListenerConfig defines the attributes used to start the HTTP server.
type ListenerConfig struct {
	Address string
}

// CommonServerConfig carries the settings shared by every server command.
type CommonServerConfig struct {
	// Listener defines the attributes to set up the HTTP listener
	Listener ListenerConfig
	// TLS defines the attributes used for outbound TLS sessions
	TLS TLSConfig
}

const (
	ListenerFlagName       = "api-listener-address"
	ClientCertFileFlagName = "tls-client-cert"
	ClientKeyFileFlagName  = "tls-client-key"
	CABundleFileFlagName   = "ca-bundle-file"

	defaultListenerAddress = "127.0.0.1:8000"
)

// SetCommonServerFlags creates the flag instances for the server.
func SetCommonServerFlags(cmd *cobra.Command, config *CommonServerConfig) error {
	var flags *pflag.FlagSet = cmd.Flags()
	flags.StringVar(
		&config.Listener.Address,
		ListenerFlagName,
		defaultListenerAddress,
		"API listener address",
	)
	flags.StringVar(
		&config.TLS.ClientCertFile,
		ClientCertFileFlagName,
		"",
		"Client certificate file for outbound mTLS sessions",
	)
	flags.StringVar(
		&config.TLS.ClientKeyFile,
		ClientKeyFileFlagName,
		"",
		"Client private key file for outbound mTLS sessions",
	)
	flags.StringVar(
		&config.TLS.CABundleFile,
		CABundleFileFlagName,
		"",
		"Additional CA certificate bundle file trusted for callbacks",
	)

	return nil
}

// LoadFromEnv loads config values from the environment.
func (c *CommonServerConfig) LoadFromEnv() error {
	err := envconfig.Process("common", c)
	if err != nil {
		return fmt.Errorf("failed to process environment variables: %w", err)
	}
	return nil
}

// Validate checks the configuration attributes to ensure they are
// semantically correct.
func (c *CommonServerConfig) Validate() error {
	if c.Listener.Address == "" {
		return fmt.Errorf("listener address is required")
	}

	if (c.TLS.ClientCertFile != "" && c.TLS.ClientKeyFile == "") ||
		(c.TLS.ClientCertFile == "" && c.TLS.ClientKeyFile != "") {
		return fmt.Errorf("both TLS cert file and key file are required")
	}

	return nil
}
