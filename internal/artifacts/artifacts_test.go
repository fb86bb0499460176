package artifacts_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/artifacts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *artifacts.Store {
	t.Helper()
	s, err := artifacts.NewStore(filepath.Join(t.TempDir(), "jobs"))
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestAcquire_ReturnsEmptyDirectory(t *testing.T) {
	s := newStore(t)

	h, err := s.Acquire("job-1", 1)
	require.NoError(t, err)
	writeFile(t, filepath.Join(h.Dir(), "leftover.txt"), "stale")

	h, err = s.Acquire("job-1", 1)
	require.NoError(t, err)
	entries, err := os.ReadDir(h.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, filepath.Join(s.Root(), "job-1", "attempt-1"), h.Dir())
	assert.Equal(t, 1, h.Attempt())
}

func TestAcquire_ClearsOnlyEarlierAttempts(t *testing.T) {
	s := newStore(t)

	first, err := s.Acquire("job-1", 1)
	require.NoError(t, err)
	writeFile(t, filepath.Join(first.Dir(), "scene_000.mp4"), "one")
	third, err := s.Acquire("job-1", 3)
	require.NoError(t, err)
	writeFile(t, filepath.Join(third.Dir(), "scene_000.mp4"), "three")

	second, err := s.Acquire("job-1", 2)
	require.NoError(t, err)
	assert.NoDirExists(t, first.Dir())
	assert.FileExists(t, filepath.Join(third.Dir(), "scene_000.mp4"))
	assert.DirExists(t, second.Dir())
}

func TestAcquire_RejectsNonPositiveAttempt(t *testing.T) {
	s := newStore(t)
	_, err := s.Acquire("job-1", 0)
	assert.ErrorIs(t, err, artifacts.ErrInvalidPath)
}

func TestHandleRelease_LeavesOtherAttempts(t *testing.T) {
	s := newStore(t)

	stale, err := s.Acquire("job-1", 1)
	require.NoError(t, err)
	live, err := s.Acquire("job-1", 2)
	require.NoError(t, err)
	writeFile(t, filepath.Join(live.Dir(), "scene_000.mp4"), "live")

	require.NoError(t, stale.Release())
	assert.FileExists(t, filepath.Join(live.Dir(), "scene_000.mp4"))

	require.NoError(t, live.Release())
	assert.NoDirExists(t, filepath.Join(s.Root(), "job-1"), "empty job directory is removed with the last attempt")
}

func TestAcquire_RejectsTraversalIDs(t *testing.T) {
	s := newStore(t)

	for _, id := range []string{"", ".", "..", "../x", "a/b"} {
		_, err := s.Acquire(id, 1)
		assert.ErrorIs(t, err, artifacts.ErrInvalidPath, "id %q", id)
	}
}

func TestHandlePath(t *testing.T) {
	s := newStore(t)
	h, err := s.Acquire("job-1", 1)
	require.NoError(t, err)

	p, err := h.Path("scenes", "scene_001.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.Dir(), "scenes", "scene_001.yaml"), p)

	_, err = h.Path("..", "job-2")
	assert.ErrorIs(t, err, artifacts.ErrInvalidPath)

	_, err = h.Path("a", "..", "..", "escape")
	assert.ErrorIs(t, err, artifacts.ErrInvalidPath)
}

func TestRelease_IsIdempotent(t *testing.T) {
	s := newStore(t)
	h, err := s.Acquire("job-1", 1)
	require.NoError(t, err)
	writeFile(t, filepath.Join(h.Dir(), "a", "b.txt"), "x")

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	require.NoError(t, s.Release("never-created"))

	_, err = os.Stat(h.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestLocate_PatternOrderWins(t *testing.T) {
	s := newStore(t)
	h, err := s.Acquire("job-1", 1)
	require.NoError(t, err)

	writeFile(t, filepath.Join(h.Dir(), "render", "videos", "scene", "480p15", "scene_001.mp4"), "low")
	writeFile(t, filepath.Join(h.Dir(), "render", "videos", "scene", "720p30", "scene_001.mp4"), "mid")

	got, err := h.Locate(
		"**/1080p60/scene_001.mp4",
		"**/720p30/scene_001.mp4",
		"**/480p15/scene_001.mp4",
		"**/scene_001.mp4",
	)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.Dir(), "render", "videos", "scene", "720p30", "scene_001.mp4"), got)
}

func TestLocate_NotFound(t *testing.T) {
	s := newStore(t)
	h, err := s.Acquire("job-1", 1)
	require.NoError(t, err)

	_, err = h.Locate("**/*.mp4")
	assert.ErrorIs(t, err, artifacts.ErrNotFound)
}

func TestLocateIn_MissingSubdirectory(t *testing.T) {
	s := newStore(t)
	h, err := s.Acquire("job-1", 1)
	require.NoError(t, err)

	_, err = h.LocateIn("render/scene_002", "**/*.mp4")
	assert.ErrorIs(t, err, artifacts.ErrNotFound)
}

func TestLocateAll_Sorted(t *testing.T) {
	s := newStore(t)
	h, err := s.Acquire("job-1", 1)
	require.NoError(t, err)

	base := filepath.Join(h.Dir(), "render", "scene_001", "partial_movie_files", "Scene")
	writeFile(t, filepath.Join(base, "b.mp4"), "b")
	writeFile(t, filepath.Join(base, "a.mp4"), "a")
	writeFile(t, filepath.Join(base, "list.txt"), "ignored")

	got, err := h.LocateAll("render/scene_001", "**/partial_movie_files/**/*.mp4")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(base, "a.mp4"), filepath.Join(base, "b.mp4")}, got)
}

func TestSweep_RemovesUnkeptDirectories(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"keep-me", "orphan-1", "orphan-2"} {
		_, err := s.Acquire(id, 1)
		require.NoError(t, err)
	}
	writeFile(t, filepath.Join(s.Root(), "stray-file"), "x")

	removed, err := s.Sweep(context.Background(), func(id string) bool { return id == "keep-me" })
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"orphan-1", "orphan-2"}, removed)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"keep-me", "stray-file"}, names)
}

func TestSweep_StopsOnCancelledContext(t *testing.T) {
	s := newStore(t)
	_, err := s.Acquire("orphan", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sweep(ctx, func(string) bool { return false })
	assert.ErrorIs(t, err, context.Canceled)
}
