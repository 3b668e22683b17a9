package nodesetexporter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *ConnectionConfig
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config with defaults",
			config: &ConnectionConfig{
				Endpoint:          "opc.tcp://localhost:4840",
				SecurityPolicy:    "None",
				SecurityMode:      "None",
				Auth:              AuthConfig{Type: "anonymous"},
				ConnectionTimeout: 30 * time.Second,
				RequestTimeout:    10 * time.Second,
			},
			wantErr: false,
		},
		{
			name:    "missing endpoint",
			config:  &ConnectionConfig{},
			wantErr: true,
			errMsg:  "endpoint must be specified",
		},
		{
			name: "invalid endpoint protocol",
			config: &ConnectionConfig{
				Endpoint: "http://localhost:4840",
			},
			wantErr: true,
			errMsg:  "endpoint must start with opc.tcp://",
		},
		{
			name: "invalid security policy",
			config: &ConnectionConfig{
				Endpoint:       "opc.tcp://localhost:4840",
				SecurityPolicy: "InvalidPolicy",
			},
			wantErr: true,
			errMsg:  "invalid security_policy",
		},
		{
			name: "invalid security mode",
			config: &ConnectionConfig{
				Endpoint:       "opc.tcp://localhost:4840",
				SecurityPolicy: "None",
				SecurityMode:   "InvalidMode",
			},
			wantErr: true,
			errMsg:  "invalid security_mode",
		},
		{
			name: "username_password auth without credentials",
			config: &ConnectionConfig{
				Endpoint:       "opc.tcp://localhost:4840",
				SecurityPolicy: "None",
				SecurityMode:   "None",
				Auth:           AuthConfig{Type: "username_password"},
			},
			wantErr: true,
			errMsg:  "username and password are required",
		},
		{
			name: "certificate auth without cert files",
			config: &ConnectionConfig{
				Endpoint:       "opc.tcp://localhost:4840",
				SecurityPolicy: "None",
				SecurityMode:   "None",
				Auth:           AuthConfig{Type: "certificate"},
			},
			wantErr: true,
			errMsg:  "cert_file and key_file are required",
		},
		{
			name: "non-positive connection timeout",
			config: &ConnectionConfig{
				Endpoint:       "opc.tcp://localhost:4840",
				SecurityPolicy: "None",
				SecurityMode:   "None",
				Auth:           AuthConfig{Type: "anonymous"},
				RequestTimeout: 10 * time.Second,
			},
			wantErr: true,
			errMsg:  "connection_timeout must be positive",
		},
		{
			name: "valid config with all security options",
			config: &ConnectionConfig{
				Endpoint:       "opc.tcp://server.local:4840",
				SecurityPolicy: "Basic256Sha256",
				SecurityMode:   "SignAndEncrypt",
				Auth: AuthConfig{
					Type:     "username_password",
					Username: "user",
					Password: "pass",
				},
				ConnectionTimeout: 30 * time.Second,
				RequestTimeout:    10 * time.Second,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDefaultConnectionConfig(t *testing.T) {
	cfg := DefaultConnectionConfig("opc.tcp://localhost:4840")

	assert.Equal(t, "opc.tcp://localhost:4840", cfg.Endpoint)
	assert.Equal(t, "None", cfg.SecurityPolicy)
	assert.Equal(t, "None", cfg.SecurityMode)
	assert.Equal(t, "anonymous", cfg.Auth.Type)

	require.NoError(t, cfg.Validate())
}
