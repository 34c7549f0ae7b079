package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSource(t *testing.T) {
	attr := Source("square")
	assert.Equal(t, FieldSource, attr.Key)
	assert.Equal(t, "square", attr.Value.String())
}

func TestHardwareID(t *testing.T) {
	attr := HardwareID("cart-017")
	assert.Equal(t, FieldHardwareID, attr.Key)
	assert.Equal(t, "cart-017", attr.Value.String())
}

func TestStatus(t *testing.T) {
	attr := Status(202)
	assert.Equal(t, FieldStatus, attr.Key)
	assert.Equal(t, int64(202), attr.Value.Int64())
}

func TestError(t *testing.T) {
	attr := Error(errors.New("connection refused"))
	assert.Equal(t, FieldError, attr.Key)
	assert.Equal(t, "connection refused", attr.Value.String())
}

func TestIndex(t *testing.T) {
	attr := Index(3)
	assert.Equal(t, FieldIndex, attr.Key)
	assert.Equal(t, int64(3), attr.Value.Int64())
}
