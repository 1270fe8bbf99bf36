package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateACharacters(t *testing.T) {
	assert.NoError(t, ValidateACharacters("HELLO WORLD", false))
	assert.Error(t, ValidateACharacters("hello", false))
	assert.NoError(t, ValidateACharacters("BAD;NAME", false))
	assert.NoError(t, ValidateACharacters("BAD;NAME", true))
}

func TestValidateDCharacters(t *testing.T) {
	assert.NoError(t, ValidateDCharacters("README123", false))
	assert.Error(t, ValidateDCharacters("readme", false))
	assert.Error(t, ValidateDCharacters("NO SPACE", false))
	assert.Error(t, ValidateDCharacters("A.TXT", false))
	assert.NoError(t, ValidateDCharacters("A.TXT", true))
}

func TestValidateCCharacters(t *testing.T) {
	assert.NoError(t, ValidateCCharacters("Any Printable Text!"))
	assert.Error(t, ValidateCCharacters("bad/slash"))
	assert.Error(t, ValidateCCharacters("colon:here"))
	assert.Error(t, ValidateCCharacters("\x01control"))
}

func TestValidateA1Characters(t *testing.T) {
	assert.NoError(t, ValidateA1Characters("Matches C-character rules"))
	assert.Error(t, ValidateA1Characters("back\\slash"))
}
