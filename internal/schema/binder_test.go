package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukpostal/refbuild/internal/config"
)

func TestBinder_VerifyAgainstRow_Success(t *testing.T) {
	b := NewBinder("onspd", config.SourceConfig{
		FieldMap:       map[string]string{"postcode": "pcds"},
		RequiredFields: []string{"postcode"},
	})
	err := b.VerifyAgainstRow(map[string]any{"pcds": "AA1 1AA"})
	require.NoError(t, err)
}

func TestBinder_VerifyAgainstRow_Missing(t *testing.T) {
	b := NewBinder("onspd", config.SourceConfig{
		FieldMap:       map[string]string{"postcode": "pcds"},
		RequiredFields: []string{"postcode", "country"},
	})
	err := b.VerifyAgainstRow(map[string]any{"pcds": "AA1 1AA"})
	require.Error(t, err)
}

func TestBinder_FieldValue_FallsBackToLogicalName(t *testing.T) {
	b := NewBinder("os_open_uprn", config.SourceConfig{})
	v, ok := b.FieldValue(map[string]any{"uprn": "123"}, "uprn")
	assert.True(t, ok)
	assert.Equal(t, "123", v)
}

func TestBinder_FieldValue_CaseInsensitive(t *testing.T) {
	b := NewBinder("onspd", config.SourceConfig{})
	v, ok := b.FieldValue(map[string]any{"PCDS": "AA1 1AA"}, "pcds")
	assert.True(t, ok)
	assert.Equal(t, "AA1 1AA", v)
}

func TestBinder_FieldValue_LegacyAliasIdentifierPair(t *testing.T) {
	b := NewBinder("os_open_lids", config.SourceConfig{})

	v, ok := b.FieldValue(map[string]any{"identifier_1": "OSGB123"}, "id_1")
	assert.True(t, ok)
	assert.Equal(t, "OSGB123", v)

	v, ok = b.FieldValue(map[string]any{"left_id": "OSGB123"}, "id_1")
	assert.True(t, ok)
	assert.Equal(t, "OSGB123", v)

	v, ok = b.FieldValue(map[string]any{"right_id": "10000001"}, "id_2")
	assert.True(t, ok)
	assert.Equal(t, "10000001", v)
}

func TestBinder_FieldValue_NotPresent(t *testing.T) {
	b := NewBinder("onspd", config.SourceConfig{})
	_, ok := b.FieldValue(map[string]any{}, "postcode")
	assert.False(t, ok)
}
