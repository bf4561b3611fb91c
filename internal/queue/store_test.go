package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPqStringArray_EmptySlice(t *testing.T) {
	assert.Equal(t, "{}", pqStringArray(nil))
}

func TestPqStringArray_SingleElement(t *testing.T) {
	assert.Equal(t, `{"0xabc"}`, pqStringArray([]string{"0xabc"}))
}

func TestPqStringArray_MultipleElements(t *testing.T) {
	assert.Equal(t, `{"0xaaa","0xbbb","0xccc"}`, pqStringArray([]string{"0xaaa", "0xbbb", "0xccc"}))
}

func TestPqStringArray_EscapesEmbeddedQuotes(t *testing.T) {
	assert.Equal(t, `{"ab\"cd"}`, pqStringArray([]string{`ab"cd`}))
}
