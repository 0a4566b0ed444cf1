// schema_test.go: Plugin configuration schema tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigSchema_Apply(t *testing.T) {
	schema := ConfigSchema{
		"host":     {Type: FieldString, Required: true},
		"port":     {Type: FieldInt, Default: 502},
		"interval": {Type: FieldDuration, Default: "30s"},
		"enabled":  {Type: FieldBool, Default: true},
	}

	t.Run("defaults_filled", func(t *testing.T) {
		out, err := schema.Apply("meter-1", map[string]any{"host": "10.0.0.5"})
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.5", out["host"])
		assert.Equal(t, 502, out["port"])
		assert.Equal(t, true, out["enabled"])
	})

	t.Run("missing_required_field", func(t *testing.T) {
		_, err := schema.Apply("meter-1", map[string]any{"port": 1502})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("type_mismatch", func(t *testing.T) {
		_, err := schema.Apply("meter-1", map[string]any{"host": 42})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("input_not_mutated", func(t *testing.T) {
		in := map[string]any{"host": "h"}
		out, err := schema.Apply("meter-1", in)
		require.NoError(t, err)
		assert.NotContains(t, in, "port")
		assert.Contains(t, out, "port")
	})

	t.Run("nil_schema_accepts_anything", func(t *testing.T) {
		var open ConfigSchema
		out, err := open.Apply("meter-1", map[string]any{"whatever": 1})
		require.NoError(t, err)
		assert.Equal(t, 1, out["whatever"])
	})

	t.Run("duration_parsing", func(t *testing.T) {
		durationSchema := ConfigSchema{"poll": {Type: FieldDuration, Required: true}}
		out, err := durationSchema.Apply("meter-1", map[string]any{"poll": "15s"})
		require.NoError(t, err)
		assert.Equal(t, 15*time.Second, out["poll"])

		_, err = durationSchema.Apply("meter-1", map[string]any{"poll": "soon"})
		require.Error(t, err)
	})
}
