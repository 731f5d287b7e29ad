package unicode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldIdempotent(t *testing.T) {
	for _, s := range []string{"Café", "HELLO", "MiXeD", "日本語", ""} {
		once := Fold(s)
		twice := Fold(once)
		assert.Equal(t, once, twice, "Fold should be idempotent for %q", s)
	}
}

func TestUnacIdempotent(t *testing.T) {
	for _, s := range []string{"Café", "résumé", "naïve", "plain"} {
		once, err := Unac(s)
		assert.NoError(t, err)
		twice, err := Unac(once)
		assert.NoError(t, err)
		assert.Equal(t, once, twice, "Unac should be idempotent for %q", s)
	}
}

func TestUnacStripsAccents(t *testing.T) {
	out, err := Unac("Café")
	assert.NoError(t, err)
	assert.Equal(t, "Cafe", out)
}

func TestHasNonInitialUppercase(t *testing.T) {
	assert.False(t, HasNonInitialUppercase("Pride"))
	assert.True(t, HasNonInitialUppercase("PRide"))
	assert.False(t, HasNonInitialUppercase("pride"))
}

func TestHasDiacritic(t *testing.T) {
	assert.True(t, HasDiacritic("café"))
	assert.False(t, HasDiacritic("cafe"))
}

func TestClassifyRuneWildcard(t *testing.T) {
	assert.Equal(t, ClassWild, ClassifyRune('*', true))
	assert.Equal(t, ClassPunct, ClassifyRune('*', false))
}
