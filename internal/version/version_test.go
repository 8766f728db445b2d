package version_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"oakci/internal/version"
)

func TestBaseRelease(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"1.0.10", "1.0.10"},
		{"v1.0.10", "1.0.10"},
		{" 1.0.10 ", "1.0.10"},
		{"1.0.10.dev0+gABC.d20260101", "1.0.10"},
		{"1.0.11-rc1", "1.0.11"},
		{"1.0.10+local", "1.0.10"},
		{"", ""},
		{"garbage", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, version.BaseRelease(c.in), "input %q", c.in)
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, version.Compare("1.0.10", "1.0.10"))
	assert.Equal(t, -1, version.Compare("1.0.10", "1.0.11"))
	assert.Equal(t, 1, version.Compare("1.1.0", "1.0.99"))
	assert.Equal(t, 1, version.Compare("1.0.10.1", "1.0.10"))
	assert.Equal(t, 0, version.Compare("1.0", "1.0.0"))
}

func TestUpdateAvailable(t *testing.T) {
	t.Run("newer installed release flags an update", func(t *testing.T) {
		assert.True(t, version.UpdateAvailable("1.0.10", "1.0.11"))
	})
	t.Run("same release does not", func(t *testing.T) {
		assert.False(t, version.UpdateAvailable("1.0.10", "1.0.10"))
	})
	t.Run("dev build of the same release does not", func(t *testing.T) {
		assert.False(t, version.UpdateAvailable("1.0.10", "1.0.10.dev0+gABC.d20260101"))
	})
	t.Run("older installed release does not", func(t *testing.T) {
		assert.False(t, version.UpdateAvailable("1.0.11", "1.0.10"))
	})
	t.Run("missing stamp does not", func(t *testing.T) {
		assert.False(t, version.UpdateAvailable("1.0.10", ""))
	})
}
