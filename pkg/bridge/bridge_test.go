package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"observatory/pkg/model"
)

func TestTopic(t *testing.T) {
	b := &Bridge{prefix: "obs"}
	change := model.Change{Device: "dome", Property: "shutter_status"}
	assert.Equal(t, "obs/dome/shutter_status", b.Topic(change))
}

func TestEncode(t *testing.T) {
	body, err := Encode(model.Change{
		Device:   "telescope",
		Property: "declination",
		Old:      41.2,
		New:      42.0,
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "telescope", got["device"])
	assert.Equal(t, "declination", got["property"])
	assert.Equal(t, 41.2, got["old"])
	assert.Equal(t, 42.0, got["new"])
	assert.NotEmpty(t, got["timestamp"])
}

func TestEncodeOmitsNilOld(t *testing.T) {
	body, err := Encode(model.Change{
		Device:   "dome",
		Property: model.ErrorProperty,
		New:      "openshutter: device reported error",
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	_, present := got["old"]
	assert.False(t, present)
}
