package nodesetexporter

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectionConfig describes how to reach and authenticate against the OPC
// UA server a Session will read from. It governs connection establishment
// only; export behavior is controlled by Options.
type ConnectionConfig struct {
	// Endpoint is the OPC UA server endpoint URL (e.g., opc.tcp://localhost:4840).
	Endpoint string `mapstructure:"endpoint"`

	// SecurityPolicy defines the security policy (None, Basic256, Basic256Sha256, etc.)
	SecurityPolicy string `mapstructure:"security_policy"`

	// SecurityMode defines the security mode (None, Sign, SignAndEncrypt)
	SecurityMode string `mapstructure:"security_mode"`

	// Auth contains authentication configuration.
	Auth AuthConfig `mapstructure:"auth"`

	// ConnectionTimeout is the timeout for establishing the OPC UA connection.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`

	// RequestTimeout is the timeout for individual OPC UA requests.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// TLS contains TLS/certificate configuration.
	TLS TLSConfig `mapstructure:"tls"`
}

// AuthConfig defines authentication configuration.
type AuthConfig struct {
	// Type is the authentication type (anonymous, username_password, certificate).
	Type string `mapstructure:"type"`

	// Username for username/password authentication.
	Username string `mapstructure:"username"`

	// Password for username/password authentication.
	Password string `mapstructure:"password"`
}

// TLSConfig defines TLS/certificate configuration.
type TLSConfig struct {
	// CertFile is the path to the client certificate file.
	CertFile string `mapstructure:"cert_file"`

	// KeyFile is the path to the client private key file.
	KeyFile string `mapstructure:"key_file"`

	// InsecureSkipVerify is accepted and validated as part of the config;
	// Dial does not read it, so certificate verification is not skipped.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// Validate validates the connection configuration.
func (cfg *ConnectionConfig) Validate() error {
	if cfg.Endpoint == "" {
		return errors.New("endpoint must be specified")
	}

	if !strings.HasPrefix(cfg.Endpoint, "opc.tcp://") {
		return fmt.Errorf("endpoint must start with opc.tcp://, got: %s", cfg.Endpoint)
	}

	validSecurityPolicies := []string{"None", "Basic256", "Basic256Sha256", "Aes128_Sha256_RsaOaep", "Aes256_Sha256_RsaPss"}
	if !contains(validSecurityPolicies, cfg.SecurityPolicy) {
		return fmt.Errorf("invalid security_policy: %s, must be one of: %v", cfg.SecurityPolicy, validSecurityPolicies)
	}

	validSecurityModes := []string{"None", "Sign", "SignAndEncrypt"}
	if !contains(validSecurityModes, cfg.SecurityMode) {
		return fmt.Errorf("invalid security_mode: %s, must be one of: %v", cfg.SecurityMode, validSecurityModes)
	}

	validAuthTypes := []string{"anonymous", "username_password", "certificate"}
	if !contains(validAuthTypes, cfg.Auth.Type) {
		return fmt.Errorf("invalid auth type: %s, must be one of: %v", cfg.Auth.Type, validAuthTypes)
	}

	if cfg.Auth.Type == "username_password" {
		if cfg.Auth.Username == "" || cfg.Auth.Password == "" {
			return errors.New("username and password are required for username_password authentication")
		}
	}

	if cfg.Auth.Type == "certificate" {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return errors.New("cert_file and key_file are required for certificate authentication")
		}
	}

	if cfg.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection_timeout must be positive, got: %s", cfg.ConnectionTimeout)
	}

	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got: %s", cfg.RequestTimeout)
	}

	return nil
}

// DefaultConnectionConfig returns the default connection configuration:
// anonymous auth, no security, and conservative timeouts.
func DefaultConnectionConfig(endpoint string) ConnectionConfig {
	return ConnectionConfig{
		Endpoint:          endpoint,
		SecurityPolicy:    "None",
		SecurityMode:      "None",
		Auth:              AuthConfig{Type: "anonymous"},
		ConnectionTimeout: 30 * time.Second,
		RequestTimeout:    10 * time.Second,
	}
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
