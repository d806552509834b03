package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimePointClassNamedTimeKeepsLabel(t *testing.T) {
	p := TimePoint{Time: "04:24:30 PM", Values: map[string]int{
		"time":       77,
		"class:odd":  12,
		"Leaf Blast": 90,
	}}

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"time":"04:24:30 PM","class:time":77,"class:class:odd":12,"Leaf Blast":90}`, string(raw))

	var back TimePoint
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "04:24:30 PM", back.Time)
	assert.Equal(t, p.Values, back.Values)
}
