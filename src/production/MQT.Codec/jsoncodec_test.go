package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeObject(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"device":"sensor1","value":23.5}`))
	require.NoError(t, err)
	assert.Equal(t, "sensor1", obj["device"])
	assert.Equal(t, 23.5, obj["value"])

	for _, bad := range []string{`not valid json`, `[1,2]`, `42`, `"text"`, `null`, ``} {
		_, err := DecodeObject([]byte(bad))
		assert.Error(t, err, "payload %q", bad)
	}
}
