package update

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/mhristof/upgrader/bash"
	"github.com/mhristof/upgrader/changes"
	"github.com/mhristof/upgrader/config"
	"github.com/mhristof/upgrader/hashing"
	"github.com/mhristof/upgrader/web"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// LockFile is created in the project metadata folder by Update. The
	// applier starts once it is removed.
	LockFile    = "lock"
	actionsFile = "actions.json"
)

// Launcher starts the process that applies actionsPath once lockPath is gone.
type Launcher func(actionsPath, lockPath string) error

// Result is the outcome of CheckUpdate.
type Result struct {
	HasUpdate    bool   `json:"has_update"`
	Description  string `json:"description"`
	WebVersion   string `json:"web_version"`
	LocalVersion string `json:"local_version"`
}

// Manager checks for and applies updates of a local project from a remote
// .upgrader folder.
type Manager struct {
	url         string
	projectPath string
	dir         string
	configPath  string
	hashDBPath  string

	web        *web.Handler
	webOptions []web.Option
	launcher   Launcher
	dryrun     bool
}

type Option func(*Manager)

// WithWebOptions configures the remote handler.
func WithWebOptions(opts ...web.Option) Option {
	return func(m *Manager) {
		m.webOptions = append(m.webOptions, opts...)
	}
}

// WithLauncher replaces the default launcher, which runs "<self> apply".
func WithLauncher(launcher Launcher) Option {
	return func(m *Manager) {
		m.launcher = launcher
	}
}

// WithDryrun makes the default launcher only log what it would run.
func WithDryrun(dryrun bool) Option {
	return func(m *Manager) {
		m.dryrun = dryrun
	}
}

// New validates the project layout and the remote. url points to the
// remote .upgrader folder, projectPath to the local project root.
func New(ctx context.Context, url, projectPath string, opts ...Option) (*Manager, error) {
	m := &Manager{
		url:         config.Normalize(url),
		projectPath: config.Normalize(projectPath),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.launcher == nil {
		m.launcher = m.launchApplier
	}

	m.dir = filepath.Join(m.projectPath, config.Dir)
	m.configPath = filepath.Join(m.dir, config.File)

	if err := m.validate(ctx); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"url":     m.url,
		"project": m.projectPath,
	}).Debug("created update manager")

	return m, nil
}

func exists(path string) error {
	_, err := os.Stat(path)

	return errors.Wrapf(err, "not found: %s", path)
}

func (m *Manager) validate(ctx context.Context) error {
	if err := exists(m.projectPath); err != nil {
		return err
	}

	handler, err := web.New(ctx, m.url, m.webOptions...)
	if err != nil {
		return err
	}

	if err := handler.Ping(ctx); err != nil {
		return &ConnectionError{URL: m.url, Err: err}
	}

	m.web = handler

	if err := exists(m.dir); err != nil {
		return err
	}

	if err := exists(m.configPath); err != nil {
		return err
	}

	cfg, err := config.Load(m.configPath)
	if err != nil {
		return err
	}

	m.hashDBPath = filepath.Join(m.dir, cfg.HashDB)

	return exists(m.hashDBPath)
}

func (m *Manager) URL() string {
	return m.url
}

func (m *Manager) ProjectPath() string {
	return m.projectPath
}

func (m *Manager) ConfigPath() string {
	return m.configPath
}

func (m *Manager) HashDBPath() string {
	return m.hashDBPath
}

// CheckUpdate compares the remote and local versions.
func (m *Manager) CheckUpdate(ctx context.Context) (*Result, error) {
	cloud, err := m.web.Config(ctx)
	if err != nil {
		return nil, err
	}

	local, err := config.Load(m.configPath)
	if err != nil {
		return nil, err
	}

	webVersion, err := semver.NewVersion(cloud.Version)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid remote version: %s", cloud.Version)
	}

	localVersion, err := semver.NewVersion(local.Version)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid local version: %s", local.Version)
	}

	result := Result{
		HasUpdate:    webVersion.GreaterThan(localVersion),
		Description:  local.Description,
		WebVersion:   webVersion.String(),
		LocalVersion: localVersion.String(),
	}

	if result.HasUpdate {
		result.Description = cloud.Description
	}

	log.WithFields(log.Fields{
		"web":       result.WebVersion,
		"local":     result.LocalVersion,
		"hasUpdate": result.HasUpdate,
	}).Info("checked for update")

	return &result, nil
}

// withCloudDB downloads the cloud hash database into a temporary folder for
// the duration of fn.
func (m *Manager) withCloudDB(ctx context.Context, fn func(path string) error) error {
	tmp, err := os.MkdirTemp("", "upgrader-db-")
	if err != nil {
		return errors.Wrap(err, "cannot create temporary folder")
	}
	defer os.RemoveAll(tmp)

	path, err := m.web.DownloadHashDB(ctx, filepath.Join(tmp, "cloud_hashes.db"))
	if err != nil {
		return err
	}

	return fn(path)
}

// Summary compares the local hash database with the cloud one.
func (m *Manager) Summary(ctx context.Context) (*hashing.Summary, error) {
	var summary *hashing.Summary

	err := m.withCloudDB(ctx, func(path string) error {
		var err error

		summary, err = hashing.Compare(ctx, m.hashDBPath, path)

		return err
	})
	if err != nil {
		return nil, &SummaryError{Err: err}
	}

	return summary, nil
}

// Files lists the cloud files, or only the ones new or changed compared to
// the local project. Files removed from the cloud are never listed.
func (m *Manager) Files(ctx context.Context, updatedOnly bool) ([]string, error) {
	var files []string

	err := m.withCloudDB(ctx, func(path string) error {
		if updatedOnly {
			summary, err := hashing.Compare(ctx, m.hashDBPath, path)
			if err != nil {
				return err
			}

			files = summary.Changed()

			return nil
		}

		db, err := hashing.Open(ctx, path)
		if err != nil {
			return err
		}
		defer db.Close()

		files, err = db.Paths(ctx)

		return err
	})
	if err != nil {
		return nil, &FilesError{Err: err}
	}

	return files, nil
}

// DownloadFiles mirrors the cloud files into savePath, a new temporary
// folder if empty, and returns it.
func (m *Manager) DownloadFiles(ctx context.Context, savePath string, updatedOnly bool) (string, error) {
	if savePath == "" {
		tmp, err := os.MkdirTemp("", "upgrader-files-")
		if err != nil {
			return "", &DownloadError{Err: err}
		}

		savePath = tmp
	}

	files, err := m.Files(ctx, updatedOnly)
	if err != nil {
		return "", &DownloadError{Err: err}
	}

	for _, file := range files {
		dst := filepath.Join(savePath, filepath.FromSlash(file))

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", &DownloadError{Err: err}
		}

		if _, err := m.web.Download(ctx, m.web.FileURL(file), dst); err != nil {
			return "", &DownloadError{Err: err}
		}
	}

	log.WithFields(log.Fields{
		"len":  len(files),
		"path": savePath,
	}).Info("downloaded files")

	return savePath, nil
}

// PrepareUpdate writes the actions file used by the applier and returns its
// path. Files are only downloaded when fileDir is empty; otherwise fileDir
// must already hold them.
func (m *Manager) PrepareUpdate(ctx context.Context, fileDir string) (string, error) {
	cloud, err := m.web.Config(ctx)
	if err != nil {
		return "", err
	}

	summary, err := m.Summary(ctx)
	if err != nil {
		return "", err
	}

	download := false

	if fileDir == "" {
		fileDir, err = os.MkdirTemp("", "upgrader-")
		if err != nil {
			return "", errors.Wrap(err, "cannot create temporary folder")
		}

		download = true
	}

	settings, err := os.MkdirTemp(fileDir, "settings-")
	if err != nil {
		return "", errors.Wrapf(err, "cannot create settings folder in %s", fileDir)
	}

	actions := changes.Actions{
		Delete:             summary.LocalOnly,
		ProjectPath:        m.projectPath,
		DownloadsDirectory: fileDir,
		CloudConfigPath:    filepath.Join(settings, config.File),
		CloudHashDBPath:    filepath.Join(settings, cloud.HashDB),
		Cleanup:            cloud.Cleanup,
	}

	if cloud.StartupPath != "" {
		actions.StartupPath = filepath.Join(m.projectPath, filepath.FromSlash(cloud.StartupPath))
	}

	if _, err := m.web.Download(ctx, m.url+"/"+cloud.HashDB, actions.CloudHashDBPath); err != nil {
		return "", err
	}

	if err := config.Write(actions.CloudConfigPath, *cloud); err != nil {
		return "", err
	}

	if download {
		if _, err := m.DownloadFiles(ctx, fileDir, cloud.RequiredOnly); err != nil {
			return "", err
		}
	}

	if cloud.RequiredOnly {
		actions.Update = summary.Changed()
	} else {
		actions.Update, err = m.Files(ctx, false)
		if err != nil {
			return "", err
		}
	}

	if cloud.RequiredOnly && len(actions.Update) == 0 && len(actions.Delete) == 0 {
		if err := os.RemoveAll(fileDir); err != nil {
			log.WithFields(log.Fields{
				"dir": fileDir,
				"err": err,
			}).Warn("cannot remove downloads folder")
		}

		return "", ErrNoUpdate
	}

	path := filepath.Join(settings, actionsFile)

	if err := actions.Save(path); err != nil {
		return "", err
	}

	log.WithFields(log.Fields{
		"path":   path,
		"update": len(actions.Update),
		"delete": len(actions.Delete),
	}).Info("prepared update")

	return path, nil
}

// Update prepares the update, creates the lock file and starts the applier,
// which waits for the lock file to be removed. The caller removes the lock
// file once it is ready to be replaced and exits.
func (m *Manager) Update(ctx context.Context) (string, error) {
	actions, err := m.PrepareUpdate(ctx, "")
	if err != nil {
		return "", err
	}

	lock := filepath.Join(m.dir, LockFile)

	if err := changes.Lock(lock); err != nil {
		return "", err
	}

	if err := m.launcher(actions, lock); err != nil {
		_ = os.Remove(lock)

		return "", errors.Wrap(err, "cannot start applier")
	}

	log.WithFields(log.Fields{
		"lock":    lock,
		"actions": actions,
	}).Info("update pending, remove the lock file to apply it")

	return lock, nil
}

func (m *Manager) launchApplier(actions, lock string) error {
	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "cannot find own executable")
	}

	_, err = bash.Start(self, []string{"apply", "--actions", actions, "--lock", lock}, m.dryrun)

	return err
}
