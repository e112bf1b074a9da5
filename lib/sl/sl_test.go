package sl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecret(t *testing.T) {
	assert.Equal(t, "abcde***", Secret("token", "abcdefghij").Value.String())
	assert.Equal(t, "***", Secret("token", "abc").Value.String())
	assert.Equal(t, "?", Secret("token", "").Value.String())
}

func TestErr(t *testing.T) {
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
	assert.Equal(t, "", Err(nil).Value.String())
}
