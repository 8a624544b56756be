package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/model"
	"github.com/tabwarden/tabwarden/internal/store/memory"
)

func TestNewStore_Memory(t *testing.T) {
	cfg := config.NewForTesting()
	st, closeFn, err := NewStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, st)
	assert.NoError(t, closeFn())
}

func TestNewStore_SQLite(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.DBDriver = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "ledger.db")

	st, closeFn, err := NewStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	_, err = st.Subjects().Create(context.Background(), &model.Subject{SubjectID: "kid", Connectivity: model.Offline})
	require.NoError(t, err)
}

func TestNewStore_Unknown(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.DBDriver = "cassandra"
	_, _, err := NewStore(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewNotifier(t *testing.T) {
	cfg := config.NewForTesting()
	d := NewNotifier(cfg, zerolog.Nop())
	require.NoError(t, d.Close(context.Background()))
}
