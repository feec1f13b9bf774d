package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	ID      string            `cbor:"id"`
	Count   int               `cbor:"count"`
	Created time.Time         `cbor:"created"`
	Labels  map[string]string `cbor:"labels,omitempty"`
}

func TestRoundtripKeepsNanoseconds(t *testing.T) {
	in := snapshot{ID: "op-1", Count: 3, Created: time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out snapshot
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Count, out.Count)
	assert.True(t, in.Created.Equal(out.Created), "got %s", out.Created)
}

func TestDeterministicMapOrder(t *testing.T) {
	a := snapshot{ID: "x", Labels: map[string]string{"b": "2", "a": "1", "c": "3"}}
	first, err := Marshal(a)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Marshal(a)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAnyDecodesToStringMap(t *testing.T) {
	data, err := Marshal(map[string]any{"k": map[string]any{"n": 1}})
	require.NoError(t, err)

	var out any
	require.NoError(t, Unmarshal(data, &out))
	m, ok := out.(map[string]any)
	require.True(t, ok)
	_, ok = m["k"].(map[string]any)
	assert.True(t, ok)
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]int{"a": 1})
	require.NoError(t, err)
	s, err := Diagnose(data)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, s)
}
