package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mhristof/upgrader/config"
	"github.com/mhristof/upgrader/hashing"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// HashDB is the name of the hash database a freshly built project gets.
const HashDB = "hashes.db"

var envNames = []string{
	"venv",
	"env",
	"virtualenv",
	"conda",
	"condaenv",
	"pipenv",
	"poetry",
	"pyenv",
}

// Error is returned when one of the build stages fails.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("build %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Builder turns a plain directory into a project that can be served to
// update clients.
type Builder struct {
	ProjectPath     string
	ExcludeEnvs     bool
	ExcludeHidden   bool
	ExcludePatterns []string
	ExcludePaths    []string
	Hasher          hashing.Hasher
}

// EnvNames returns the virtual environment folder names skipped with
// ExcludeEnvs, plain and dot-prefixed.
func EnvNames() []string {
	ret := append([]string{}, envNames...)

	for _, name := range envNames {
		ret = append(ret, "."+name)
	}

	return ret
}

func (b *Builder) dir() string {
	return filepath.Join(b.ProjectPath, config.Dir)
}

// Build creates the metadata folder, a default config and the hash database.
func (b *Builder) Build(ctx context.Context) error {
	if err := b.validate(); err != nil {
		return &Error{Stage: "path", Err: err}
	}

	log.WithFields(log.Fields{
		"project": b.ProjectPath,
	}).Info("building project")

	if err := b.createDir(); err != nil {
		return &Error{Stage: "folder", Err: err}
	}

	if err := b.createConfig(); err != nil {
		return &Error{Stage: "config", Err: err}
	}

	if err := b.createHashDB(ctx); err != nil {
		return &Error{Stage: "hashdb", Err: err}
	}

	log.WithFields(log.Fields{
		"dir": b.dir(),
	}).Info("project built, remember to edit the config file")

	return nil
}

func (b *Builder) validate() error {
	if b.ProjectPath == "" {
		return errors.New("project path not set")
	}

	if _, err := os.Stat(b.ProjectPath); err != nil {
		return errors.Wrapf(err, "folder %q does not exist", b.ProjectPath)
	}

	project := config.Normalize(b.ProjectPath)

	for _, path := range b.ExcludePaths {
		if config.Normalize(path) == project {
			return errors.New("project path cannot be excluded")
		}
	}

	return nil
}

func (b *Builder) createDir() error {
	dir := b.dir()

	if _, err := os.Stat(dir); err == nil {
		log.WithField("dir", dir).Warn("folder already exists, deleting it")

		if err := os.RemoveAll(dir); err != nil {
			return errors.Wrapf(err, "cannot remove %s", dir)
		}
	}

	return errors.Wrapf(os.Mkdir(dir, 0o755), "cannot create %s", dir)
}

func (b *Builder) createConfig() error {
	path := filepath.Join(b.dir(), config.File)

	cfg := config.Default()
	cfg.HashDB = HashDB

	if err := config.Write(path, cfg); err != nil {
		return err
	}

	_, err := config.Load(path)

	return errors.Wrap(err, "cannot validate config file")
}

func (b *Builder) createHashDB(ctx context.Context) error {
	paths := append([]string{b.dir()}, b.ExcludePaths...)
	patterns := append([]string{`.*/__pycache__/.*`}, b.ExcludePatterns...)

	if b.ExcludeHidden {
		patterns = append(patterns, `.*/\..*`)
	}

	if b.ExcludeEnvs {
		for _, name := range EnvNames() {
			paths = append(paths, filepath.Join(b.ProjectPath, name))
		}
	}

	_, err := b.Hasher.CreateDB(ctx, b.ProjectPath, filepath.Join(b.dir(), HashDB), paths, patterns)

	return err
}
