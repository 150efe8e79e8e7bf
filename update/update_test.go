package update

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mhristof/upgrader/build"
	"github.com/mhristof/upgrader/changes"
	"github.com/mhristof/upgrader/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeProject(t *testing.T, files map[string]string, cfg func(*config.Config)) string {
	t.Helper()

	root := t.TempDir()

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	builder := build.Builder{ProjectPath: root}
	require.NoError(t, builder.Build(context.Background()))

	if cfg != nil {
		path := filepath.Join(root, config.Dir, config.File)

		loaded, err := config.Load(path)
		require.NoError(t, err)

		cfg(loaded)
		require.NoError(t, config.Write(path, *loaded))
	}

	return root
}

func serve(t *testing.T, root string) string {
	t.Helper()

	srv := httptest.NewServer(http.FileServer(http.Dir(root)))
	t.Cleanup(srv.Close)

	return srv.URL + "/" + config.Dir
}

type fixture struct {
	local string
	cloud string
	url   string
}

func newFixture(t *testing.T, cloudCfg func(*config.Config)) fixture {
	t.Helper()

	local := makeProject(t, map[string]string{
		"main.py":    "print('main')",
		"changed.py": "v1",
		"old.py":     "remove me",
	}, func(c *config.Config) {
		c.Description = "local build"
	})

	cloud := makeProject(t, map[string]string{
		"main.py":      "print('main')",
		"changed.py":   "v2",
		"new/added.py": "hello",
	}, func(c *config.Config) {
		c.Version = "2.0.0"
		c.Description = "cloud build"
		c.StartupPath = "main.py"
		if cloudCfg != nil {
			cloudCfg(c)
		}
	})

	return fixture{local: local, cloud: cloud, url: serve(t, cloud)}
}

func TestNew(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	m, err := New(ctx, f.url+"/", f.local)
	require.NoError(t, err)
	assert.Equal(t, f.url, m.URL())
	assert.Equal(t, config.Normalize(f.local), m.ProjectPath())
	assert.Equal(t, filepath.Join(f.local, config.Dir, config.File), m.ConfigPath())
	assert.Equal(t, filepath.Join(f.local, config.Dir, build.HashDB), m.HashDBPath())
}

func TestNewErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := New(ctx, f.url, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist, "missing project")

	_, err = New(ctx, f.url, t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist, "missing metadata folder")

	require.NoError(t, os.Remove(filepath.Join(f.local, config.Dir, build.HashDB)))
	_, err = New(ctx, f.url, f.local)
	assert.ErrorIs(t, err, os.ErrNotExist, "missing hash db")

	srv := httptest.NewServer(http.NotFoundHandler())
	closed := srv.URL + "/" + config.Dir
	srv.Close()

	_, err = New(ctx, closed, f.local)

	var connErr *ConnectionError
	assert.True(t, errors.As(err, &connErr), "unreachable url")
}

func TestCheckUpdate(t *testing.T) {
	cases := []struct {
		name    string
		version string
		want    Result
	}{
		{
			name:    "newer remote",
			version: "2.0.0",
			want:    Result{HasUpdate: true, Description: "cloud build", WebVersion: "2.0.0", LocalVersion: "1.0.0"},
		},
		{
			name:    "same version",
			version: "1.0.0",
			want:    Result{HasUpdate: false, Description: "local build", WebVersion: "1.0.0", LocalVersion: "1.0.0"},
		},
		{
			name:    "older remote",
			version: "0.9",
			want:    Result{HasUpdate: false, Description: "local build", WebVersion: "0.9.0", LocalVersion: "1.0.0"},
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) {
				c.Version = test.version
			})

			m, err := New(context.Background(), f.url, f.local)
			require.NoError(t, err)

			result, err := m.CheckUpdate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, test.want, *result)
		})
	}
}

func TestSummaryAndFiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	m, err := New(ctx, f.url, f.local)
	require.NoError(t, err)

	summary, err := m.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.py"}, summary.LocalOnly)
	assert.Equal(t, []string{"new/added.py"}, summary.CloudOnly)
	require.Len(t, summary.Bad, 1)
	assert.Equal(t, "changed.py", summary.Bad[0].Path)
	require.Len(t, summary.OK, 1)
	assert.Equal(t, "main.py", summary.OK[0].Path)

	all, err := m.Files(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"changed.py", "main.py", "new/added.py"}, all)

	updated, err := m.Files(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"new/added.py", "changed.py"}, updated)
}

func TestDownloadFiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	m, err := New(ctx, f.url, f.local)
	require.NoError(t, err)

	dir, err := m.DownloadFiles(ctx, "", true)
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	data, err := os.ReadFile(filepath.Join(dir, "new", "added.py"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	assert.FileExists(t, filepath.Join(dir, "changed.py"))
	assert.NoFileExists(t, filepath.Join(dir, "main.py"))
}

func TestDownloadFilesError(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	m, err := New(ctx, f.url, f.local)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.cloud, "changed.py")))

	_, err = m.DownloadFiles(ctx, t.TempDir(), false)

	var downloadErr *DownloadError
	assert.True(t, errors.As(err, &downloadErr))
}

func TestPrepareUpdate(t *testing.T) {
	cases := []struct {
		name         string
		requiredOnly bool
		update       []string
	}{
		{name: "all files", requiredOnly: false, update: []string{"changed.py", "main.py", "new/added.py"}},
		{name: "required only", requiredOnly: true, update: []string{"new/added.py", "changed.py"}},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) {
				c.RequiredOnly = test.requiredOnly
			})
			ctx := context.Background()

			m, err := New(ctx, f.url, f.local)
			require.NoError(t, err)

			path, err := m.PrepareUpdate(ctx, "")
			require.NoError(t, err)

			actions, err := changes.Load(path)
			require.NoError(t, err)
			defer os.RemoveAll(actions.DownloadsDirectory)

			assert.Equal(t, test.update, actions.Update)
			assert.Equal(t, []string{"old.py"}, actions.Delete)
			assert.Equal(t, filepath.Join(m.ProjectPath(), "main.py"), actions.StartupPath)
			assert.FileExists(t, actions.CloudConfigPath)
			assert.FileExists(t, actions.CloudHashDBPath)

			for _, file := range test.update {
				assert.FileExists(t, filepath.Join(actions.DownloadsDirectory, filepath.FromSlash(file)))
			}
		})
	}
}

func TestPrepareUpdateNothingRequired(t *testing.T) {
	files := map[string]string{"main.py": "same"}

	local := makeProject(t, files, nil)
	cloud := makeProject(t, files, func(c *config.Config) {
		c.Version = "1.0.1"
		c.RequiredOnly = true
	})

	ctx := context.Background()

	m, err := New(ctx, serve(t, cloud), local)
	require.NoError(t, err)

	dir := t.TempDir()

	_, err = m.PrepareUpdate(ctx, dir)
	assert.ErrorIs(t, err, ErrNoUpdate)
	assert.NoDirExists(t, dir)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var launchedActions, launchedLock string

	m, err := New(ctx, f.url, f.local, WithLauncher(func(actions, lock string) error {
		launchedActions, launchedLock = actions, lock
		return nil
	}))
	require.NoError(t, err)

	lock, err := m.Update(ctx)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(m.ProjectPath(), config.Dir, LockFile), lock)
	assert.Equal(t, lock, launchedLock)
	assert.FileExists(t, lock)

	// what the applier does once the host application removes the lock.
	require.NoError(t, os.Remove(lock))
	require.NoError(t, changes.WaitForUnlock(ctx, lock))

	actions, err := changes.Load(launchedActions)
	require.NoError(t, err)
	require.NoError(t, actions.Apply(false))
	defer os.RemoveAll(actions.DownloadsDirectory)

	data, err := os.ReadFile(filepath.Join(f.local, "changed.py"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.NoFileExists(t, filepath.Join(f.local, "old.py"))
	assert.FileExists(t, filepath.Join(f.local, "new", "added.py"))

	result, err := m.CheckUpdate(ctx)
	require.NoError(t, err)
	assert.False(t, result.HasUpdate)
	assert.Equal(t, "2.0.0", result.LocalVersion)

	summary, err := m.Summary(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.LocalOnly)
	assert.Empty(t, summary.CloudOnly)
	assert.Empty(t, summary.Bad)
}

func TestUpdateLauncherFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	m, err := New(ctx, f.url, f.local, WithLauncher(func(string, string) error {
		return errors.New("boom")
	}))
	require.NoError(t, err)

	_, err = m.Update(ctx)
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(f.local, config.Dir, LockFile))
}
