package terrain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTypeSemantics(t *testing.T) {
	tests := []struct {
		typ        Type
		walkable   bool
		deployable bool
	}{
		{Ground, true, true},
		{HighGround, true, true},
		{Forbidden, false, false},
		{Hole, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			assert.Equal(t, tt.walkable, tt.typ.Walkable())
			assert.Equal(t, tt.deployable, tt.typ.Deployable())
			assert.True(t, tt.typ.IsValid())
		})
	}
}

func TestParse(t *testing.T) {
	typ, err := Parse("highground")
	require.NoError(t, err)
	assert.Equal(t, HighGround, typ)

	_, err = Parse("Lava")
	assert.Error(t, err)
}

func TestInvalidType(t *testing.T) {
	bad := Type(42)
	assert.False(t, bad.IsValid())
	assert.Equal(t, "Type(42)", bad.String())
	_, err := bad.MarshalText()
	assert.Error(t, err)
}

func TestTextEncoding(t *testing.T) {
	var doc struct {
		Kind Type `yaml:"kind" json:"kind"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("kind: Hole\n"), &doc))
	assert.Equal(t, Hole, doc.Kind)

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"Hole"}`, string(out))

	assert.Error(t, yaml.Unmarshal([]byte("kind: Water\n"), &doc))
}
