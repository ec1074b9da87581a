package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCell_In(t *testing.T) {
	assert.True(t, Cell{X: 0, Z: 0}.In(3, 2))
	assert.True(t, Cell{X: 2, Z: 1}.In(3, 2))
	assert.False(t, Cell{X: 3, Z: 1}.In(3, 2))
	assert.False(t, Cell{X: 0, Z: -1}.In(3, 2))
	assert.False(t, Cell{X: 0, Z: 0}.In(0, 0))
}
