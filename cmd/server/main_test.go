package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixa/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"})
	assert.Error(t, err, "short secret")

	err = validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "123456"})
	assert.Error(t, err, "common pin")
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	assert.NoError(t, err)
}

func TestValidatePINStrength(t *testing.T) {
	tests := []struct {
		pin     string
		wantErr bool
	}{
		{"739154", false},
		{"4829163", false},
		{"000000", true},
		{"7777777", true},
		{"234567", true},
		{"987654", true},
		{"12ab56", true},
	}

	for _, tt := range tests {
		t.Run(tt.pin, func(t *testing.T) {
			err := validatePINStrength(tt.pin)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.Config{LogLevel: "debug", LogFormat: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1), "debug enabled")

	logger, err = newLogger(config.Config{LogLevel: "warn", LogFormat: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(0), "info disabled at warn")

	_, err = newLogger(config.Config{LogLevel: "loud"})
	assert.Error(t, err)
}
