package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_DocumentValueTakesPriorityOverCacheAndDefaults(t *testing.T) {
	store, err := OpenSQLiteStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Save(KeyWindowRecheck, 45))

	p := NewProvider(map[Key]int{KeyWindowRecheck: 90}, store, zerolog.Nop())
	assert.Equal(t, 90, p.get(KeyWindowRecheck))
}

func TestNewProvider_FallsBackToCacheThenDefaults(t *testing.T) {
	store, err := OpenSQLiteStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Save(KeyHeartbeat, 20))

	p := NewProvider(nil, store, zerolog.Nop())
	assert.Equal(t, 20, p.get(KeyHeartbeat))
	assert.Equal(t, Defaults[KeyCommandTimeout], p.get(KeyCommandTimeout))
}

func TestNewProvider_IgnoresOutOfBoundsDocumentValue(t *testing.T) {
	p := NewProvider(map[Key]int{KeyWindowRecheck: -5}, nil, zerolog.Nop())
	assert.Equal(t, Defaults[KeyWindowRecheck], p.get(KeyWindowRecheck))
}

func TestProvider_UpdateRejectsOutOfBoundsAndKeepsPrevious(t *testing.T) {
	p := NewProvider(nil, nil, zerolog.Nop())
	previous := p.get(KeyHardwareStateSync)

	err := p.Update(KeyHardwareStateSync, 999999)
	require.Error(t, err)
	assert.Equal(t, previous, p.get(KeyHardwareStateSync))
}

func TestProvider_UpdateAppliesValidValueAndPersists(t *testing.T) {
	store, err := OpenSQLiteStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	p := NewProvider(nil, store, zerolog.Nop())
	require.NoError(t, p.Update(KeyLocalHardwareRead, 10))
	assert.Equal(t, 10, p.get(KeyLocalHardwareRead))

	cached, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cached[KeyLocalHardwareRead])
}

func TestProvider_AccessorsConvertToDurations(t *testing.T) {
	p := NewProvider(map[Key]int{
		KeyHeartbeat:         15,
		KeyHardwareStateSync: 30,
		KeyLocalHardwareRead: 5,
		KeyWindowRecheck:     60,
		KeyCommandTimeout:    10,
	}, nil, zerolog.Nop())

	assert.Equal(t, 15*time.Second, p.HeartbeatInterval())
	assert.Equal(t, 30*time.Second, p.HardwareStateSyncInterval())
	assert.Equal(t, 5*time.Second, p.LocalHardwareReadInterval())
	assert.Equal(t, 60*time.Second, p.WindowRecheckInterval())
	assert.Equal(t, 10*time.Second, p.CommandTimeout())
}

func TestSQLiteStore_LoadScheduleRunsRoundTrips(t *testing.T) {
	store, err := OpenSQLiteStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveScheduleRun(19, "s1", "2026-07-30T12:05:00Z"))
	runs, err := store.LoadScheduleRuns()
	require.NoError(t, err)
	assert.Equal(t, "2026-07-30T12:05:00Z", runs["19/s1"])
}
