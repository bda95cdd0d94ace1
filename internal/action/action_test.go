package action

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptParamsWalksFallbacksInOrder(t *testing.T) {
	step := Step{
		ID:     "step-1",
		Params: ClickParams{Selector: "#primary"},
		Fallbacks: []Params{
			ClickParams{Selector: "#alt-1"},
			ClickParams{Selector: "#alt-2"},
		},
		ErrorPolicy: ErrorPolicy{RetryCount: 4},
	}

	p, idx := step.AttemptParams(0)
	assert.Equal(t, ClickParams{Selector: "#primary"}, p)
	assert.Equal(t, -1, idx)

	p, idx = step.AttemptParams(1)
	assert.Equal(t, ClickParams{Selector: "#alt-1"}, p)
	assert.Equal(t, 0, idx)

	p, idx = step.AttemptParams(2)
	assert.Equal(t, ClickParams{Selector: "#alt-2"}, p)
	assert.Equal(t, 1, idx)

	p, idx = step.AttemptParams(3)
	assert.Equal(t, ClickParams{Selector: "#primary"}, p)
	assert.Equal(t, -1, idx)
}

func TestStepJSONKeepsTypeTag(t *testing.T) {
	step := Step{
		ID:          "step-2",
		Ordinal:     2,
		Params:      TypeParams{Selector: "#email", Text: "a@b.c"},
		Fallbacks:   []Params{TypeParams{Selector: "input[name=email]", Text: "a@b.c"}},
		ErrorPolicy: ErrorPolicy{RetryCount: 1},
	}

	data, err := json.Marshal(step)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"type"`)

	var decoded Step
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, step, decoded)
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	var s Step
	err := json.Unmarshal([]byte(`{"id":"x","type":"hover","params":{}}`), &s)
	assert.Error(t, err)
}

func TestEveryTypeDecodes(t *testing.T) {
	for _, typ := range Types() {
		p, err := DecodeParams(typ, nil)
		require.NoError(t, err, typ)
		assert.Equal(t, typ, p.Type())
	}
}
