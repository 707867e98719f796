package controller

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leefowlercu/atlas-archive/internal/archive"
	"github.com/leefowlercu/atlas-archive/internal/classify"
	"github.com/leefowlercu/atlas-archive/internal/events"
	"github.com/leefowlercu/atlas-archive/internal/lockfile"
	"github.com/leefowlercu/atlas-archive/internal/status"
)

const testWindow = 50 * time.Millisecond

func newTestConfig(t *testing.T) WatchConfig {
	t.Helper()
	tmp := t.TempDir()
	src := filepath.Join(tmp, "saves")
	require.NoError(t, os.MkdirAll(src, 0o755))

	cfg := DefaultWatchConfig()
	cfg.SourcePath = src
	cfg.DestinationPath = filepath.Join(tmp, "backups")
	cfg.MaxBackups = 3
	cfg.DebounceWindow = testWindow
	return cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func archives(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".zip") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func shutdown(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
}

// gateFs blocks reads of one file until the gate is opened.
type gateFs struct {
	afero.Fs
	path    string
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gateFs) Open(name string) (afero.File, error) {
	if name == g.path {
		g.once.Do(func() { close(g.entered) })
		<-g.gate
	}
	return g.Fs.Open(name)
}

func TestWatchConfig_Validate(t *testing.T) {
	valid := DefaultWatchConfig()
	valid.SourcePath = "/games/saves"
	valid.DestinationPath = "/games/backups"

	tests := []struct {
		name    string
		mutate  func(*WatchConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*WatchConfig) {}},
		{name: "empty source", mutate: func(c *WatchConfig) { c.SourcePath = "" }, wantErr: true},
		{name: "empty destination", mutate: func(c *WatchConfig) { c.DestinationPath = "" }, wantErr: true},
		{name: "zero max backups", mutate: func(c *WatchConfig) { c.MaxBackups = 0 }, wantErr: true},
		{name: "zero window", mutate: func(c *WatchConfig) { c.DebounceWindow = 0 }, wantErr: true},
		{name: "same paths", mutate: func(c *WatchConfig) { c.DestinationPath = "/games/saves/" }, wantErr: true},
		{name: "cache name with slash", mutate: func(c *WatchConfig) { c.CacheDirNames = []string{"a/b"} }, wantErr: true},
		{name: "empty cache name", mutate: func(c *WatchConfig) { c.CacheDirNames = []string{""} }, wantErr: true},
		{name: "nested destination", mutate: func(c *WatchConfig) { c.DestinationPath = "/games/saves/backups" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.CacheDirNames = append([]string(nil), valid.CacheDirNames...)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConfiguration), "error %v should wrap ErrConfiguration", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWatchConfig_SourceName(t *testing.T) {
	cfg := WatchConfig{SourcePath: "/games/NMS/st_7656/"}
	assert.Equal(t, "st_7656", cfg.SourceName())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "watching", Watching.String())
	assert.Equal(t, "stopping", Stopping.String())
}

func TestStart_ConfigurationErrors(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.MaxBackups = 0

	c := New(cfg)
	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Equal(t, Stopped, c.State())

	cfg = newTestConfig(t)
	cfg.SourcePath = filepath.Join(cfg.SourcePath, "missing")
	c = New(cfg)
	err = c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Equal(t, Stopped, c.State())
}

func TestController_BacksUpAfterQuietPeriod(t *testing.T) {
	cfg := newTestConfig(t)
	rec := &status.Recorder{}

	c := New(cfg, WithSink(rec))
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, Watching, c.State())
	assert.NotEmpty(t, c.SessionID())

	writeFile(t, filepath.Join(cfg.SourcePath, "save2.hg"), "restore point")

	require.True(t, waitFor(t, 3*time.Second, func() bool {
		return len(archives(t, cfg.DestinationPath)) == 1
	}), "expected one archive")

	names := archives(t, cfg.DestinationPath)
	assert.True(t, strings.HasSuffix(names[0], "_saves_RestorePoint.zip"), names[0])

	shutdown(t, c)
	assert.Equal(t, Stopped, c.State())
	assert.NoError(t, c.Err())

	_, err := os.Stat(filepath.Join(cfg.DestinationPath, lockfile.Name))
	assert.True(t, os.IsNotExist(err), "lock file should be released")
}

func TestController_DisabledAutosaveNeverForwarded(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.TriggerOnAutosave = false
	cfg.TriggerOnOther = false

	c := New(cfg)
	require.NoError(t, c.Start(context.Background()))
	defer shutdown(t, c)

	for i := 0; i < 3; i++ {
		writeFile(t, filepath.Join(cfg.SourcePath, "save.hg"), strings.Repeat("a", i+1))
		writeFile(t, filepath.Join(cfg.SourcePath, "notes.txt"), "other")
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(6 * testWindow)
	assert.Empty(t, archives(t, cfg.DestinationPath), "disabled categories must not trigger a backup")

	writeFile(t, filepath.Join(cfg.SourcePath, "save4.hg"), "restore point")
	require.True(t, waitFor(t, 3*time.Second, func() bool {
		return len(archives(t, cfg.DestinationPath)) == 1
	}), "enabled category should trigger a backup")
}

func TestController_StopDrainsInFlightBackup(t *testing.T) {
	cfg := newTestConfig(t)
	target := filepath.Join(cfg.SourcePath, "save.hg")

	// A full destination, so the drained backup must be followed by retention
	require.NoError(t, os.MkdirAll(cfg.DestinationPath, 0o755))
	start := time.Date(2020, 1, 1, 8, 0, 0, 0, time.Local)
	var seeded []string
	for i := 0; i < cfg.MaxBackups; i++ {
		name := archive.FileName("saves", classify.TagAutosave, start.Add(time.Duration(i)*time.Hour), 0)
		writeFile(t, filepath.Join(cfg.DestinationPath, name), "old")
		seeded = append(seeded, name)
	}

	fs := &gateFs{
		Fs:      afero.NewOsFs(),
		path:    target,
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}

	c := New(cfg, WithFS(fs))
	require.NoError(t, c.Start(context.Background()))

	writeFile(t, target, "autosave")

	select {
	case <-fs.entered:
	case <-time.After(3 * time.Second):
		close(fs.gate)
		t.Fatal("backup never started")
	}

	c.Stop()
	assert.Equal(t, Stopping, c.State())

	select {
	case <-c.Done():
		close(fs.gate)
		t.Fatal("session ended before the in-flight backup finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(fs.gate)

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop after the backup finished")
	}

	assert.Equal(t, Stopped, c.State())
	assert.NoError(t, c.Err())

	names := archives(t, cfg.DestinationPath)
	require.Len(t, names, cfg.MaxBackups, "retention should run after the drained backup")
	assert.NotContains(t, names, seeded[0], "oldest archive should be deleted")
	assert.Contains(t, names, seeded[1])
	assert.Contains(t, names, seeded[2])

	var created string
	for _, name := range names {
		if !slices.Contains(seeded, name) {
			created = name
		}
	}
	require.NotEmpty(t, created, "in-flight backup should complete")

	zr, err := zip.OpenReader(filepath.Join(cfg.DestinationPath, created))
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	assert.Equal(t, "save.hg", zr.File[0].Name)
}

func TestController_RenameSaveIsNotUndelete(t *testing.T) {
	cfg := newTestConfig(t)
	writeFile(t, filepath.Join(cfg.SourcePath, "save2.hg"), "restore point v1")

	c := New(cfg)
	require.NoError(t, c.Start(context.Background()))
	defer shutdown(t, c)

	// Games write the new save beside the old one and rename it into place
	tmp := filepath.Join(cfg.SourcePath, "save2.hg.tmp")
	writeFile(t, tmp, "restore point v2")
	require.NoError(t, os.Rename(tmp, filepath.Join(cfg.SourcePath, "save2.hg")))

	require.True(t, waitFor(t, 3*time.Second, func() bool {
		return len(archives(t, cfg.DestinationPath)) == 1
	}), "expected one archive")

	name := archives(t, cfg.DestinationPath)[0]
	assert.NotContains(t, name, string(classify.TagUndelete))
	assert.True(t, strings.HasSuffix(name, "_saves_RestorePoint.zip"), name)
}

func TestController_SourceRemovedEndsSession(t *testing.T) {
	cfg := newTestConfig(t)
	rec := &status.Recorder{}

	c := New(cfg, WithSink(rec))
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, os.RemoveAll(cfg.SourcePath))

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		c.Stop()
		t.Fatal("session did not end after source removal")
	}

	assert.Equal(t, Stopped, c.State())
	assert.True(t, errors.Is(c.Err(), ErrWatchFailure), "Err() = %v", c.Err())
	assert.GreaterOrEqual(t, rec.Count(status.Error), 1)

	_, err := os.Stat(filepath.Join(cfg.DestinationPath, lockfile.Name))
	assert.True(t, os.IsNotExist(err), "lock file should be released")
}

func TestController_SecondSessionOnSameDestination(t *testing.T) {
	cfg := newTestConfig(t)

	first := New(cfg)
	require.NoError(t, first.Start(context.Background()))
	defer shutdown(t, first)

	second := New(cfg)
	err := second.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, lockfile.ErrLocked))
	assert.Equal(t, Stopped, second.State())
}

func TestController_StartTwice(t *testing.T) {
	cfg := newTestConfig(t)

	c := New(cfg)
	require.NoError(t, c.Start(context.Background()))
	defer shutdown(t, c)

	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)
}

func TestController_RestartAfterStop(t *testing.T) {
	cfg := newTestConfig(t)

	c := New(cfg)
	require.NoError(t, c.Start(context.Background()))
	firstID := c.SessionID()
	shutdown(t, c)

	require.NoError(t, c.Start(context.Background()))
	defer shutdown(t, c)
	assert.NotEqual(t, firstID, c.SessionID())
	assert.Equal(t, Watching, c.State())
}

func TestController_ContextCancelEndsSession(t *testing.T) {
	cfg := newTestConfig(t)
	ctx, cancel := context.WithCancel(context.Background())

	c := New(cfg)
	require.NoError(t, c.Start(ctx))
	cancel()

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end after context cancellation")
	}
	assert.NoError(t, c.Err())
}

func TestController_NestedDestinationDoesNotRetrigger(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.DestinationPath = filepath.Join(cfg.SourcePath, "backups")

	c := New(cfg)
	require.NoError(t, c.Start(context.Background()))
	defer shutdown(t, c)

	writeFile(t, filepath.Join(cfg.SourcePath, "save.hg"), "autosave")

	require.True(t, waitFor(t, 3*time.Second, func() bool {
		return len(archives(t, cfg.DestinationPath)) == 1
	}))

	// Writing the archive must not cause another backup
	time.Sleep(8 * testWindow)
	assert.Len(t, archives(t, cfg.DestinationPath), 1)
}

func TestController_RetentionAcrossBursts(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.MaxBackups = 1

	c := New(cfg)
	require.NoError(t, c.Start(context.Background()))
	defer shutdown(t, c)

	for i := 0; i < 3; i++ {
		writeFile(t, filepath.Join(cfg.SourcePath, "save.hg"), strings.Repeat("x", i+1))
		time.Sleep(6 * testWindow)
	}

	require.True(t, waitFor(t, 3*time.Second, func() bool {
		return len(archives(t, cfg.DestinationPath)) == 1
	}))
	time.Sleep(4 * testWindow)
	assert.Len(t, archives(t, cfg.DestinationPath), 1)
}

func TestController_PublishesEvents(t *testing.T) {
	cfg := newTestConfig(t)
	bus := events.NewBus()
	defer bus.Close()

	var mu sync.Mutex
	seen := make(map[events.EventType]int)
	completed := make(chan *events.BackupEvent, 1)

	bus.Subscribe(func(e events.Event) {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
		if e.Type == events.BackupCompleted {
			select {
			case completed <- e.Payload.(*events.BackupEvent):
			default:
			}
		}
	})

	c := New(cfg, WithBus(bus))
	require.NoError(t, c.Start(context.Background()))

	writeFile(t, filepath.Join(cfg.SourcePath, "mods", "mod.pak"), "mod")

	select {
	case ev := <-completed:
		assert.Equal(t, string(classify.TagOther), ev.Tag)
		assert.Equal(t, c.SessionID(), ev.SessionID)
		assert.Equal(t, 1, ev.Files)
	case <-time.After(3 * time.Second):
		t.Fatal("no backup.completed event")
	}

	shutdown(t, c)

	require.True(t, waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[events.SessionStopped] == 1
	}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[events.SessionStarted])
	assert.Equal(t, 1, seen[events.BackupStarted])
	assert.GreaterOrEqual(t, seen[events.ChangeDetected], 1)
}
