package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testManifest struct {
	FormatVersion int      `json:"format_version" yaml:"format_version"`
	Radius        float32  `json:"radius" yaml:"radius"`
	Batches       []string `json:"batches" yaml:"batches"`
}

func TestRoundTrip(t *testing.T) {
	in := testManifest{
		FormatVersion: 1,
		Radius:        2.5,
		Batches:       []string{"batch-0.bin", "batch-1.bin"},
	}

	for _, c := range []Codec{JSON{}, YAML{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(in)
			require.NoError(t, err)

			var out testManifest
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "yaml"} {
		c, ok := ByName(name)
		require.True(t, ok, name)
		assert.Equal(t, name, c.Name())
	}

	_, ok := ByName("msgpack")
	assert.False(t, ok)
}

func TestMustMarshal(t *testing.T) {
	data := MustMarshal(nil, testManifest{FormatVersion: 1})
	assert.NotEmpty(t, data)
	assert.Equal(t, "json", Default.Name())

	assert.Panics(t, func() {
		MustMarshal(JSON{}, make(chan int))
	})
}
