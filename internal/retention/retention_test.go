package retention

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leefowlercu/atlas-archive/internal/archive"
	"github.com/leefowlercu/atlas-archive/internal/classify"
	"github.com/leefowlercu/atlas-archive/internal/status"
)

const dest = "/backups"

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)

// seed writes archives for source at base+offsets[i] minutes and returns their names.
func seed(t *testing.T, fs afero.Fs, source string, offsets ...int) []string {
	t.Helper()
	require.NoError(t, fs.MkdirAll(dest, 0o755))

	var names []string
	for _, off := range offsets {
		name := archive.FileName(source, classify.TagAutosave, base.Add(time.Duration(off)*time.Minute), 0)
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dest, name), []byte("zip"), 0o644))
		names = append(names, name)
	}
	return names
}

func listNames(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, dest)
	require.NoError(t, err)
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names
}

// removeFailFs refuses to delete one path.
type removeFailFs struct {
	afero.Fs
	deny string
}

func (r *removeFailFs) Remove(name string) error {
	if name == r.deny {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrPermission}
	}
	return r.Fs.Remove(name)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(dest, "saves", 0)
	assert.Error(t, err)

	_, err = New(dest, "", 3)
	assert.Error(t, err)

	m, err := New(dest, "saves", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Max())
}

func TestEnforce_KeepsNewest(t *testing.T) {
	fs := afero.NewMemMapFs()
	// A, B, C, D oldest to newest
	names := seed(t, fs, "saves", 0, 1, 2, 3)

	m, err := New(dest, "saves", 3, WithFS(fs))
	require.NoError(t, err)

	res, err := m.Enforce(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Deleted, 1)
	assert.Equal(t, names[0], res.Deleted[0].Name)
	assert.Len(t, res.Kept, 3)
	assert.Empty(t, res.Failed)
	assert.Equal(t, names[1:], listNames(t, fs))
}

func TestEnforce_Idempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed(t, fs, "saves", 0, 1, 2, 3, 4)

	m, err := New(dest, "saves", 2, WithFS(fs))
	require.NoError(t, err)

	first, err := m.Enforce(context.Background())
	require.NoError(t, err)
	assert.Len(t, first.Deleted, 3)

	after := listNames(t, fs)

	second, err := m.Enforce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Deleted)
	assert.Equal(t, after, listNames(t, fs))
}

func TestEnforce_UnderLimitDeletesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	names := seed(t, fs, "saves", 0, 1)

	m, err := New(dest, "saves", 5, WithFS(fs))
	require.NoError(t, err)

	res, err := m.Enforce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Deleted)
	assert.Equal(t, names, listNames(t, fs))
}

func TestEnforce_NeverTouchesForeignFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed(t, fs, "saves", 0, 1, 2)
	other := seed(t, fs, "other", -10, -9)

	foreign := []string{
		".atlas.lock",
		".atlas-99.zip.tmp",
		"notes.txt",
		"2024-06-01_11-00-00_saves_Weekly.zip",
	}
	for _, name := range foreign {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dest, name), []byte("x"), 0o644))
	}

	m, err := New(dest, "saves", 1, WithFS(fs))
	require.NoError(t, err)

	res, err := m.Enforce(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Deleted, 2)

	remaining := listNames(t, fs)
	for _, name := range append(foreign, other...) {
		assert.Contains(t, remaining, name)
	}
}

func TestEnforce_OrdersBySecondThenName(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(dest, 0o755))

	// Three archives in the same second, distinguished by sequence
	names := []string{
		archive.FileName("saves", classify.TagAutosave, base, 0),
		archive.FileName("saves", classify.TagAutosave, base, 1),
		archive.FileName("saves", classify.TagAutosave, base, 2),
	}
	for _, name := range names {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dest, name), []byte("zip"), 0o644))
	}

	m, err := New(dest, "saves", 1, WithFS(fs))
	require.NoError(t, err)

	res, err := m.Enforce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Deleted, 2)
	assert.Equal(t, names[0], res.Deleted[0].Name)
	assert.Equal(t, names[1], res.Deleted[1].Name)
	assert.Equal(t, []string{names[2]}, listNames(t, fs))
}

func TestEnforce_DeleteFailureIsWarning(t *testing.T) {
	mem := afero.NewMemMapFs()
	names := seed(t, mem, "saves", 0, 1, 2)
	fs := &removeFailFs{Fs: mem, deny: filepath.Join(dest, names[0])}
	rec := &status.Recorder{}

	m, err := New(dest, "saves", 1, WithFS(fs), WithSink(rec))
	require.NoError(t, err)

	res, err := m.Enforce(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Failed, 1)
	assert.Equal(t, names[0], res.Failed[0].Name)
	require.Len(t, res.Deleted, 1)
	assert.Equal(t, names[1], res.Deleted[0].Name)
	assert.Equal(t, 1, rec.Count(status.Warning))
	assert.Equal(t, []string{names[0], names[2]}, listNames(t, mem))
}

func TestList(t *testing.T) {
	fs := afero.NewMemMapFs()
	names := seed(t, fs, "saves", 5, 1, 3)

	m, err := New(dest, "saves", 10, WithFS(fs))
	require.NoError(t, err)

	records, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, names[1], records[0].Name)
	assert.Equal(t, names[2], records[1].Name)
	assert.Equal(t, names[0], records[2].Name)
	assert.Equal(t, int64(3), records[0].Size)
}

func TestList_MissingDestination(t *testing.T) {
	m, err := New("/nowhere", "saves", 1, WithFS(afero.NewMemMapFs()))
	require.NoError(t, err)

	records, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEnforce_RemovesStaleTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed(t, fs, "saves", 0, 1)

	stale := filepath.Join(dest, ".atlas-1111.zip.tmp")
	fresh := filepath.Join(dest, ".atlas-2222.zip.tmp")
	require.NoError(t, afero.WriteFile(fs, stale, []byte("partial"), 0o644))
	require.NoError(t, afero.WriteFile(fs, fresh, []byte("partial"), 0o644))
	old := time.Now().Add(-10 * time.Minute)
	require.NoError(t, fs.Chtimes(stale, old, old))

	m, err := New(dest, "saves", 5, WithFS(fs), WithStaleTempAge(5*time.Minute))
	require.NoError(t, err)

	res, err := m.Enforce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Deleted)
	assert.Equal(t, []string{stale}, res.Orphans)

	remaining := listNames(t, fs)
	assert.NotContains(t, remaining, filepath.Base(stale))
	assert.Contains(t, remaining, filepath.Base(fresh), "a temp file from a build that may still be running is kept")
	assert.Len(t, remaining, 3)
}

func TestEnforce_RepeatedHourUsesModTime(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("time zone data unavailable: %v", err)
	}
	local := time.Local
	time.Local = ny
	t.Cleanup(func() { time.Local = local })

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(dest, 0o755))

	// 01:50 before the clocks go back, then 01:10 after: the second is newer
	older := time.Date(2024, 11, 3, 5, 50, 0, 0, time.UTC).In(ny)
	newer := time.Date(2024, 11, 3, 6, 10, 0, 0, time.UTC).In(ny)
	var names []string
	for _, at := range []time.Time{older, newer} {
		name := archive.FileName("saves", classify.TagAutosave, at, 0)
		path := filepath.Join(dest, name)
		require.NoError(t, afero.WriteFile(fs, path, []byte("zip"), 0o644))
		require.NoError(t, fs.Chtimes(path, at, at))
		names = append(names, name)
	}

	m, err := New(dest, "saves", 1, WithFS(fs))
	require.NoError(t, err)

	res, err := m.Enforce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Deleted, 1)
	assert.Equal(t, names[0], res.Deleted[0].Name)
	assert.Equal(t, []string{names[1]}, listNames(t, fs))
}
