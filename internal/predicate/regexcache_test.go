package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRegex_ReusesCompiled(t *testing.T) {
	t.Parallel()

	a, err := compileRegex(`^/cache-test/[0-9]+$`)
	require.NoError(t, err)
	b, err := compileRegex(`^/cache-test/[0-9]+$`)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = compileRegex(`(`)
	assert.Error(t, err)
}
