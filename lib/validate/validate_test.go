package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Hours int    `json:"hours" validate:"min=1,max=720"`
	Name  string `json:"name" validate:"required"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(&sample{Hours: 5, Name: "x"}))

	err := Struct(sample{Hours: 0})
	assert.EqualError(t, err, "hours min=1; name required")

	assert.EqualError(t, Struct(nil), "is nil")
	assert.EqualError(t, Struct(42), "not a struct")
}

func TestVar(t *testing.T) {
	assert.NoError(t, Var(24, "min=1,max=168"))
	assert.Error(t, Var(200, "min=1,max=168"))
}
