package gateway

import (
	"errors"
	"testing"

	"github.com/Dhoini/Billing-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilitiesHas(t *testing.T) {
	caps := Capabilities{CapabilityPayments, CapabilityRefunds}

	assert.True(t, caps.Has(CapabilityPayments))
	assert.True(t, caps.Has(CapabilityRefunds))
	assert.False(t, caps.Has(CapabilityWebhooks))
}

func TestSettingsSchemaValidate_RequiredMissing(t *testing.T) {
	schema := SettingsSchema{
		Fields: []SettingsField{
			{Key: "api_key", Type: FieldTypeSecret, Required: true},
			{Key: "label", Type: FieldTypeString},
		},
	}

	err := schema.Validate(map[string]string{"label": "test"})
	require.Error(t, err)

	var verrs *domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs.Fields(), "api_key")
}

func TestSettingsSchemaValidate_UnknownKeyRejected(t *testing.T) {
	schema := SettingsSchema{
		Fields: []SettingsField{
			{Key: "api_key", Type: FieldTypeSecret, Required: true},
		},
	}

	err := schema.Validate(map[string]string{
		"api_key": "sk_test_123",
		"bogus":   "value",
	})
	require.Error(t, err)

	var verrs *domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs.Fields(), "bogus")
}

func TestSettingsSchemaValidate_Valid(t *testing.T) {
	schema := SettingsSchema{
		Fields: []SettingsField{
			{Key: "api_key", Type: FieldTypeSecret, Required: true},
			{Key: "label", Type: FieldTypeString},
		},
	}

	err := schema.Validate(map[string]string{"api_key": "sk_test_123"})
	assert.NoError(t, err)
}

func TestSettingsSchemaWithDefaults(t *testing.T) {
	schema := SettingsSchema{
		Fields: []SettingsField{
			{Key: "auto_complete", Type: FieldTypeBool, Default: "true"},
			{Key: "label", Type: FieldTypeString},
		},
	}

	merged := schema.WithDefaults(map[string]string{"label": "test"})
	assert.Equal(t, "true", merged["auto_complete"])
	assert.Equal(t, "test", merged["label"])

	// Явное значение не перетирается дефолтом
	merged = schema.WithDefaults(map[string]string{"auto_complete": "false"})
	assert.Equal(t, "false", merged["auto_complete"])
}
