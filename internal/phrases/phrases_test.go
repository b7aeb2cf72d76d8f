package phrases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPhrases(t *testing.T) {
	p := Default()

	assert.True(t, p.Has("hello.intro"))
	assert.True(t, p.Has("reports.success"))
	assert.Equal(t, "Tag `0.9` is not greater than `1.0`, the latest release. Please use a newer one",
		p.Say("release.outdated", "0.9", "1.0"))
}

func TestUnknownPhraseRendersID(t *testing.T) {
	assert.Equal(t, "nope.missing", Default().Say("nope.missing"))
}

func TestOverrides(t *testing.T) {
	p, err := Load(map[string]interface{}{
		"hello": map[string]interface{}{"intro": "Howdy from @%s"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Howdy from @bot", p.Say("hello.intro", "bot"))
	assert.True(t, p.Has("lost.text"), "untouched defaults survive")
}
