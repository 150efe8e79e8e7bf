package changes

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mhristof/upgrader/bash"
	"github.com/mhristof/upgrader/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func read(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func fixture(t *testing.T) *Actions {
	t.Helper()

	project := t.TempDir()
	downloads := t.TempDir()
	settings := filepath.Join(downloads, "settings")

	write(t, filepath.Join(project, "main.py"), "old main")
	write(t, filepath.Join(project, "keep.py"), "keep")
	write(t, filepath.Join(project, "gone/only.py"), "bye")
	write(t, filepath.Join(project, config.Dir, config.File), "old config")
	write(t, filepath.Join(project, config.Dir, "hashes.db"), "old db")

	write(t, filepath.Join(downloads, "main.py"), "new main")
	write(t, filepath.Join(downloads, "pkg/new.py"), "new file")
	write(t, filepath.Join(settings, config.File), "new config")
	write(t, filepath.Join(settings, "hashes.db"), "new db")

	return &Actions{
		Update:             []string{"main.py", "pkg/new.py"},
		Delete:             []string{"gone/only.py"},
		ProjectPath:        project,
		DownloadsDirectory: downloads,
		CloudConfigPath:    filepath.Join(settings, config.File),
		CloudHashDBPath:    filepath.Join(settings, "hashes.db"),
	}
}

func TestApply(t *testing.T) {
	actions := fixture(t)
	actions.Cleanup = true

	require.NoError(t, actions.Apply(false))

	project := actions.ProjectPath
	assert.Equal(t, "new main", read(t, filepath.Join(project, "main.py")))
	assert.Equal(t, "new file", read(t, filepath.Join(project, "pkg/new.py")))
	assert.Equal(t, "keep", read(t, filepath.Join(project, "keep.py")))
	assert.NoFileExists(t, filepath.Join(project, "gone/only.py"))
	assert.NoDirExists(t, filepath.Join(project, "gone"))
	assert.Equal(t, "new config", read(t, filepath.Join(project, config.Dir, config.File)))
	assert.Equal(t, "new db", read(t, filepath.Join(project, config.Dir, "hashes.db")))
	assert.NoDirExists(t, actions.DownloadsDirectory)
}

func TestApplyKeepsMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no exec bit on windows")
	}

	actions := fixture(t)
	marker := filepath.Join(t.TempDir(), "started")

	startup := filepath.Join(actions.ProjectPath, "run.sh")
	write(t, startup, "#!/bin/sh\nexit 1\n")
	require.NoError(t, os.Chmod(startup, 0o755))

	write(t, filepath.Join(actions.DownloadsDirectory, "run.sh"), "#!/bin/sh\ntouch "+marker+"\n")

	actions.Update = append(actions.Update, "run.sh")
	actions.StartupPath = startup

	downloaded, err := os.Stat(filepath.Join(actions.DownloadsDirectory, "pkg/new.py"))
	require.NoError(t, err)

	require.NoError(t, actions.Apply(false))

	info, err := os.Stat(startup)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(actions.ProjectPath, "pkg/new.py"))
	require.NoError(t, err)
	assert.Equal(t, downloaded.Mode().Perm(), info.Mode().Perm(), "new files keep the downloaded mode")

	_, err = bash.Start(actions.StartupPath, nil, false)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestApplyDryrun(t *testing.T) {
	actions := fixture(t)
	actions.Cleanup = true

	require.NoError(t, actions.Apply(true))

	project := actions.ProjectPath
	assert.Equal(t, "old main", read(t, filepath.Join(project, "main.py")))
	assert.FileExists(t, filepath.Join(project, "gone/only.py"))
	assert.Equal(t, "old config", read(t, filepath.Join(project, config.Dir, config.File)))
	assert.DirExists(t, actions.DownloadsDirectory)
}

func TestApplyRejectsEscapingPaths(t *testing.T) {
	cases := []struct {
		name   string
		update []string
		delete []string
	}{
		{name: "update escapes", update: []string{"../outside.py"}},
		{name: "delete escapes", delete: []string{"../../etc/passwd"}},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			actions := fixture(t)
			actions.Update = test.update
			actions.Delete = test.delete

			assert.Error(t, actions.Apply(false))
		})
	}
}

func TestApplyMissingCloudConfig(t *testing.T) {
	actions := fixture(t)
	actions.CloudConfigPath = filepath.Join(t.TempDir(), "missing.yaml")

	assert.Error(t, actions.Apply(false))
}

func TestSaveLoad(t *testing.T) {
	actions := fixture(t)
	path := filepath.Join(t.TempDir(), "actions.json")

	require.NoError(t, actions.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, actions, loaded)
}

func TestWaitForUnlock(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "lock")

	assert.NoError(t, WaitForUnlock(context.Background(), lock), "no lock file")

	require.NoError(t, Lock(lock))

	go func() {
		time.Sleep(100 * time.Millisecond)
		os.Remove(lock)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, WaitForUnlock(ctx, lock))
}

func TestWaitForUnlockTimeout(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "lock")
	require.NoError(t, Lock(lock))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, WaitForUnlock(ctx, lock), context.DeadlineExceeded)
}
