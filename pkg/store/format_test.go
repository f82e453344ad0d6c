package store

import (
	"go/format"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcesAreFormatted(t *testing.T) {
	for _, name := range []string{"store.go", "keys.go"} {
		src, err := os.ReadFile(name)
		require.NoError(t, err)
		out, err := format.Source(src)
		require.NoError(t, err)
		assert.Equal(t, string(out), string(src), "%s is not gofmt-formatted", name)
	}
}
