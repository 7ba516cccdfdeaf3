package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermit_SetCoordinatesBothOrNeither(t *testing.T) {
	t.Parallel()

	lat, lon := 30.27, -97.74
	var p Permit

	p.SetCoordinates(&lat, &lon)
	require.True(t, p.HasCoordinates())
	assert.InDelta(t, 30.27, *p.Lat, 0.0001)

	p.SetCoordinates(&lat, nil)
	assert.False(t, p.HasCoordinates())
	assert.Nil(t, p.Lat)
	assert.Nil(t, p.Lon)
}

func TestPermit_SetCoordinatesCopiesValues(t *testing.T) {
	t.Parallel()

	lat, lon := 1.0, 2.0
	var p Permit
	p.SetCoordinates(&lat, &lon)
	lat = 99

	assert.InDelta(t, 1.0, *p.Lat, 0.0001)
}

func TestPermit_RawStageOmitsDerivedFields(t *testing.T) {
	t.Parallel()

	p := Permit{Source: "austin", Trade: "electrical", Raw: map[string]string{"Permit #": "E-1"}}
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "austin", m["source"])
	assert.Contains(t, m, "zipcode")
	assert.NotContains(t, m, "dedupe_key")
	assert.NotContains(t, m, "lat")
	assert.NotContains(t, m, "dupe_group_id")
}
