package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/config"
)

func TestSQLiteBackend_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	s, err := Open(ctx, config.StoreConfig{Driver: "sqlite", Path: path}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, ok, err := s.backend.Get(ctx, KeyPromptQueue)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.ImportPrompts(ctx, "first\nsecond")
	require.NoError(t, err)
	require.NoError(t, s.AddLog(ctx, schemas.LogSuccess, "Prompt 1 completed"))
	// Upsert path.
	require.NoError(t, s.SetPromptStatus(ctx, 0, schemas.PromptDone))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, config.StoreConfig{Driver: "sqlite", Path: path}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reopened.Close()

	q, err := reopened.Queue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schemas.PromptItem{
		{Text: "first", Status: schemas.PromptDone},
		{Text: "second", Status: schemas.PromptPending},
	}, q)

	logs, err := reopened.Logs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, schemas.LogSuccess, logs[0].Type)
}
