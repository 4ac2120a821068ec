package covey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalContext(t *testing.T) {
	t.Run("it should hand out the same process-wide container on every call", func(t *testing.T) {
		// GIVEN
		ResetGlobal()
		t.Cleanup(ResetGlobal)

		// WHEN
		c1, err := GlobalContainer()
		require.NoError(t, err)
		c2, err := GlobalContainer()
		require.NoError(t, err)

		// THEN
		assert.Same(t, c1, c2)
	})

	t.Run("it should back the global container with the global registry", func(t *testing.T) {
		// GIVEN
		ResetGlobal()
		t.Cleanup(ResetGlobal)

		// WHEN
		reg, err := GlobalRegistry()
		require.NoError(t, err)
		c, err := GlobalContainer()
		require.NoError(t, err)

		// THEN
		assert.Same(t, reg, c.Registry())
	})

	t.Run("it should start from a clean slate after a reset", func(t *testing.T) {
		// GIVEN
		ResetGlobal()
		t.Cleanup(ResetGlobal)
		before, err := GlobalContainer()
		require.NoError(t, err)

		// WHEN
		ResetGlobal()
		after, err := GlobalContainer()
		require.NoError(t, err)

		// THEN
		assert.NotSame(t, before, after)
	})

	t.Run("it should refuse access when disabled through the environment", func(t *testing.T) {
		// GIVEN
		t.Setenv("COVEY_ENABLE_GLOBAL_CONTEXT", "no")

		// WHEN
		_, regErr := GlobalRegistry()
		_, containerErr := GlobalContainer()

		// THEN
		assert.ErrorIs(t, regErr, ErrGlobalContextDisabled)
		assert.ErrorIs(t, containerErr, ErrGlobalContextDisabled)
	})

	t.Run("it should accept the usual truthy spellings", func(t *testing.T) {
		// GIVEN
		ResetGlobal()
		t.Cleanup(ResetGlobal)
		t.Setenv("COVEY_ENABLE_GLOBAL_CONTEXT", "Yes")

		// WHEN
		_, err := GlobalContainer()

		// THEN
		assert.NoError(t, err)
	})
}

func TestContainerOrGlobal(t *testing.T) {
	t.Run("it should prefer the explicit container", func(t *testing.T) {
		// GIVEN
		explicit := NewRegistry().CreateContainer()

		// WHEN
		c, err := ContainerOrGlobal(explicit)

		// THEN
		require.NoError(t, err)
		assert.Same(t, explicit, c)
	})

	t.Run("it should fall back to the global container", func(t *testing.T) {
		// GIVEN
		ResetGlobal()
		t.Cleanup(ResetGlobal)

		// WHEN
		c, err := ContainerOrGlobal(nil)
		require.NoError(t, err)

		// THEN
		global, err := GlobalContainer()
		require.NoError(t, err)
		assert.Same(t, global, c)
	})
}

func TestEnvironmentFlags(t *testing.T) {
	t.Run("it should default to enabled for the global context", func(t *testing.T) {
		assert.True(t, newEnvironment().globalContextEnabled())
	})

	t.Run("it should understand the falsy spellings", func(t *testing.T) {
		for _, value := range []string{"no", "false", "0", "n", "off", "NO"} {
			t.Setenv("COVEY_ENABLE_GLOBAL_CONTEXT", value)
			assert.False(t, newEnvironment().globalContextEnabled(), "value %q", value)
		}
	})

	t.Run("it should treat unrecognized values as the default", func(t *testing.T) {
		t.Setenv("COVEY_ENABLE_GLOBAL_CONTEXT", "maybe")
		assert.True(t, newEnvironment().globalContextEnabled())
	})
}
