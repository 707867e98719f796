package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leefowlercu/atlas-archive/internal/classify"
	"github.com/leefowlercu/atlas-archive/internal/status"
)

var fixedTime = time.Date(2024, 5, 1, 10, 30, 0, 0, time.Local)

func fixedClock() time.Time { return fixedTime }

// unreadableFs fails Open for selected files.
type unreadableFs struct {
	afero.Fs
	deny map[string]bool
}

func (u *unreadableFs) Open(name string) (afero.File, error) {
	if u.deny[name] {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return u.Fs.Open(name)
}

// flakyFs returns files that fail after the first read.
type flakyFs struct {
	afero.Fs
	flaky string
}

func (f *flakyFs) Open(name string) (afero.File, error) {
	file, err := f.Fs.Open(name)
	if err != nil || name != f.flaky {
		return file, err
	}
	return &flakyFile{File: file}, nil
}

type flakyFile struct {
	afero.File
	reads int
}

func (f *flakyFile) Read(p []byte) (int, error) {
	f.reads++
	if f.reads > 1 {
		return 0, errors.New("input/output error")
	}
	return f.File.Read(p)
}

// renameFailFs refuses to rename.
type renameFailFs struct {
	afero.Fs
}

func (r *renameFailFs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: os.ErrPermission}
}

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for path, content := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
}

func zipEntries(t *testing.T, fs afero.Fs, path string) map[string]string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	entries := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		rc.Close()
		require.NoError(t, err, f.Name)
		entries[f.Name] = buf.String()
	}
	return entries
}

func dirNames(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names
}

func TestBuild_WritesArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/saves/save.hg":         "autosave",
		"/saves/save2.hg":        "restore",
		"/saves/sub/mf_save.hg":  "manifest",
		"/saves/sub/deep/a.json": "{}",
	})

	b, err := NewBuilder("/saves", "/backups", WithFS(fs), WithClock(fixedClock))
	require.NoError(t, err)

	res, err := b.Build(context.Background(), classify.TagGeneral)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Files)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, int64(len("autosave")+len("restore")+len("manifest")+len("{}")), res.Bytes)
	assert.Equal(t, "2024-05-01_10-30-00_saves_General.zip", res.Record.Name)
	assert.Equal(t, classify.TagGeneral, res.Record.Tag)
	assert.Greater(t, res.Record.Size, int64(0))

	entries := zipEntries(t, fs, res.Record.Path)
	assert.Equal(t, map[string]string{
		"save.hg":         "autosave",
		"save2.hg":        "restore",
		"sub/mf_save.hg":  "manifest",
		"sub/deep/a.json": "{}",
	}, entries)

	// Only the final archive remains
	assert.Equal(t, []string{res.Record.Name}, dirNames(t, fs, "/backups"))
}

func TestBuild_PreservesModTime(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/saves/save.hg": "x"})
	mtime := time.Date(2023, 1, 2, 3, 4, 6, 0, time.UTC)
	require.NoError(t, fs.Chtimes("/saves/save.hg", mtime, mtime))

	b, err := NewBuilder("/saves", "/backups", WithFS(fs), WithClock(fixedClock))
	require.NoError(t, err)

	res, err := b.Build(context.Background(), classify.TagAutosave)
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, res.Record.Path)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.True(t, zr.File[0].Modified.Equal(mtime), "Modified = %v", zr.File[0].Modified)
}

func TestBuild_SkipsUnreadableFileWithOneWarning(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFiles(t, mem, map[string]string{
		"/saves/save.hg":   "ok",
		"/saves/locked.hg": "secret",
	})
	fs := &unreadableFs{Fs: mem, deny: map[string]bool{"/saves/locked.hg": true}}
	rec := &status.Recorder{}

	b, err := NewBuilder("/saves", "/backups", WithFS(fs), WithSink(rec), WithClock(fixedClock))
	require.NoError(t, err)

	res, err := b.Build(context.Background(), classify.TagAutosave)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, rec.Count(status.Warning))
	assert.Contains(t, rec.Messages()[0].Text, "locked.hg")

	entries := zipEntries(t, mem, res.Record.Path)
	assert.Equal(t, map[string]string{"save.hg": "ok"}, entries)
}

func TestBuild_MidStreamReadFailure(t *testing.T) {
	mem := afero.NewMemMapFs()
	big := strings.Repeat("0123456789", 2000)
	writeFiles(t, mem, map[string]string{
		"/saves/save.hg":  "ok",
		"/saves/save2.hg": big,
	})
	fs := &flakyFs{Fs: mem, flaky: "/saves/save2.hg"}
	rec := &status.Recorder{}

	b, err := NewBuilder("/saves", "/backups", WithFS(fs), WithSink(rec), WithClock(fixedClock))
	require.NoError(t, err)

	res, err := b.Build(context.Background(), classify.TagGeneral)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, rec.Count(status.Warning))

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "save2.hg")

	// The archive is still a valid zip and holds no truncated copy
	entries := zipEntries(t, mem, res.Record.Path)
	assert.Equal(t, "ok", entries["save.hg"])
	_, partial := entries["save2.hg"]
	assert.False(t, partial, "a file that failed mid-read must not be archived")
	assert.Equal(t, int64(2), res.Bytes)
}

func TestBuild_SkipsNestedDestination(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/saves/save.hg":                "data",
		"/saves/backups/older.zip":      "previous archive",
		"/saves/backups_extra/notes.md": "kept",
	})

	b, err := NewBuilder("/saves", "/saves/backups", WithFS(fs), WithClock(fixedClock))
	require.NoError(t, err)

	res, err := b.Build(context.Background(), classify.TagAutosave)
	require.NoError(t, err)

	entries := zipEntries(t, fs, res.Record.Path)
	assert.Contains(t, entries, "save.hg")
	assert.Contains(t, entries, "backups_extra/notes.md")
	for name := range entries {
		assert.False(t, strings.HasPrefix(name, "backups/"), "destination entry archived: %s", name)
	}
}

func TestBuild_SkipsCacheDirectories(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"/saves/save.hg":          "data",
		"/saves/cache/shader.bin": "junk",
		"/saves/sub/Cache/x.bin":  "junk",
	})

	tests := []struct {
		name   string
		ignore bool
		want   int
	}{
		{name: "ignored", ignore: true, want: 1},
		{name: "included", ignore: false, want: 3},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := classify.New(classify.Rules{IgnoreCachePaths: tt.ignore})
			clock := func() time.Time { return fixedTime.Add(time.Duration(i) * time.Hour) }

			b, err := NewBuilder("/saves", "/backups", WithFS(fs), WithClassifier(c), WithClock(clock))
			require.NoError(t, err)

			res, err := b.Build(context.Background(), classify.TagOther)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Files)
			assert.Len(t, zipEntries(t, fs, res.Record.Path), tt.want)
		})
	}
}

func TestBuild_NameCollision(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/saves/save.hg": "data"})

	b, err := NewBuilder("/saves", "/backups", WithFS(fs), WithClock(fixedClock))
	require.NoError(t, err)

	first, err := b.Build(context.Background(), classify.TagAutosave)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), classify.TagAutosave)
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01_10-30-00_saves_Autosave.zip", first.Record.Name)
	assert.Equal(t, "2024-05-01_10-30-00_saves_Autosave-1.zip", second.Record.Name)
	assert.Equal(t, 1, second.Record.Seq)
}

func TestBuild_RenameFailureLeavesNoFiles(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFiles(t, mem, map[string]string{"/saves/save.hg": "data"})
	require.NoError(t, mem.MkdirAll("/backups", 0o755))

	b, err := NewBuilder("/saves", "/backups", WithFS(&renameFailFs{Fs: mem}), WithClock(fixedClock))
	require.NoError(t, err)

	_, err = b.Build(context.Background(), classify.TagAutosave)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrite))
	assert.Empty(t, dirNames(t, mem, "/backups"))
}

func TestBuild_CancelledContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"/saves/save.hg": "data"})
	require.NoError(t, fs.MkdirAll("/backups", 0o755))

	b, err := NewBuilder("/saves", "/backups", WithFS(fs))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = b.Build(ctx, classify.TagAutosave)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, dirNames(t, fs, "/backups"))
}

func TestBuild_MissingSource(t *testing.T) {
	fs := afero.NewMemMapFs()

	b, err := NewBuilder("/gone", "/backups", WithFS(fs))
	require.NoError(t, err)

	_, err = b.Build(context.Background(), classify.TagManual)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestBuild_DoesNotFollowDirectoryLinks(t *testing.T) {
	tmp := t.TempDir()
	source := filepath.Join(tmp, "saves")
	outside := filepath.Join(tmp, "outside")
	dest := filepath.Join(tmp, "backups")

	require.NoError(t, os.MkdirAll(source, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "save.hg"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "big.bin"), []byte("elsewhere"), 0o644))
	if err := os.Symlink(outside, filepath.Join(source, "linked")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	b, err := NewBuilder(source, dest, WithClock(fixedClock))
	require.NoError(t, err)

	res, err := b.Build(context.Background(), classify.TagAutosave)
	require.NoError(t, err)

	osFs := afero.NewOsFs()
	entries := zipEntries(t, osFs, res.Record.Path)
	assert.Equal(t, map[string]string{"save.hg": "data"}, entries)
}

func TestBuilder_SourceName(t *testing.T) {
	b, err := NewBuilder("/games/NMS/st_76561198", "/backups", WithFS(afero.NewMemMapFs()))
	require.NoError(t, err)
	assert.Equal(t, "st_76561198", b.SourceName())
}
