package durablesaga_test

import (
	"testing"

	"github.com/fortressi/durablesaga"
	"github.com/fortressi/durablesaga/storetest"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) durablesaga.Store {
		return durablesaga.NewMemoryStore()
	})
}

func TestFileStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) durablesaga.Store {
		s, err := durablesaga.NewFileStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}
