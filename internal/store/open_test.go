package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/config"
	"qrattend/internal/store/memory"
)

func TestOpenMemory(t *testing.T) {
	st, err := Open(context.Background(), config.App{StoreBackend: BackendMemory, Env: "dev"})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, st)
}

func TestOpenRejects(t *testing.T) {
	_, err := Open(context.Background(), config.App{StoreBackend: BackendMemory, Env: "prod"})
	assert.Error(t, err)

	_, err = Open(context.Background(), config.App{StoreBackend: "sqlite"})
	assert.ErrorContains(t, err, "unknown store backend")
}
