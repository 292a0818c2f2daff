package util

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snap struct {
	Peak float64 `json:"peak"`
	Last float64 `json:"last"`
}

func TestSaveLoadJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	require.NoError(t, SaveJSON(path, snap{Peak: 12000, Last: 11000}))

	var got snap
	require.NoError(t, LoadJSON(path, &got))
	assert.Equal(t, snap{Peak: 12000, Last: 11000}, got)

	_, err := os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err), "nothing to back up on first save")

	require.NoError(t, SaveJSON(path, snap{Peak: 12500, Last: 12500}))
	require.NoError(t, LoadJSON(path, &got))
	assert.Equal(t, snap{Peak: 12500, Last: 12500}, got)

	var bak snap
	require.NoError(t, LoadJSON(path+".bak", &bak))
	assert.Equal(t, snap{Peak: 12000, Last: 11000}, bak, "backup holds the replaced snapshot")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temp file left behind")
	}
}

func TestLoadJSONMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	var s snap
	assert.ErrorIs(t, LoadJSON(filepath.Join(dir, "nope.json"), &s), ErrNoSnapshot)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	assert.ErrorIs(t, LoadJSON(empty, &s), ErrNoSnapshot)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	err := LoadJSON(bad, &s)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSnapshot)
}

func TestPidLockIsExclusive(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "bot.pid")
	f, err := AcquirePidLock(lock)
	require.NoError(t, err)

	_, err = AcquirePidLock(lock)
	assert.Error(t, err)

	ReleasePidLock(f)
	f2, err := AcquirePidLock(lock)
	require.NoError(t, err)
	ReleasePidLock(f2)
}

func TestPidLockTakesOverFileOfDeadProcess(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "run", "bot.pid")
	require.NoError(t, os.MkdirAll(filepath.Dir(lock), 0o755))
	// left behind by an instance that was SIGKILLed
	require.NoError(t, os.WriteFile(lock, []byte("999999"), 0o600))

	f, err := AcquirePidLock(lock)
	require.NoError(t, err)
	defer ReleasePidLock(f)

	raw, err := os.ReadFile(lock)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(raw))

	_, err = AcquirePidLock(lock)
	assert.Error(t, err, "a live holder still excludes others")
}

func TestManualClockRecordsSleeps(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	require.NoError(t, c.Sleep(context.Background(), time.Second))
	require.NoError(t, c.Sleep(context.Background(), 2*time.Second))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, c.Sleeps())
	assert.Equal(t, start.Add(3*time.Second), c.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.Sleep(ctx, time.Second))
}
