package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/varnet/errors"
)

func TestValidateConfigPath(t *testing.T) {
	tests := []struct {
		path string
		ok   bool
	}{
		{"app.yaml", true},
		{"configs/app.json", true},
		{"/etc/varnet/app.yml", true},
		{"../app.yaml", false},
		{"configs/../../app.yaml", false},
		{"app.toml", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": [1, {"b": "[[["}]}`)))

	deep := strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1)
	err := validateJSONDepth([]byte(deep))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	assert.ErrorIs(t, validateJSONDepth([]byte(`{"a": `)), errors.ErrInvalidConfig)
}

func TestValidateEnvVar(t *testing.T) {
	assert.NoError(t, validateEnvVar("VARNET_NAME", "oven"))
	assert.Error(t, validateEnvVar("VARNET_NAME", "ov\x00en"))
	assert.Error(t, validateEnvVar("VARNET_NAME", strings.Repeat("x", maxEnvVarLen+1)))
}
