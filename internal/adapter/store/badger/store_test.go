package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmp/internal/adapter/store/storetest"
	"pmp/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store { return newTestStore(t) })
}

func TestStoreReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.SaveApp(ctx, storetest.SampleApp("com.example.a")))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	apps, err := s.Apps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.AppRecord{storetest.SampleApp("com.example.a")}, apps)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SaveApp(ctx, storetest.SampleApp("com.example.a")), context.Canceled)
	_, err := s.Apps(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
