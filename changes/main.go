package changes

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mhristof/upgrader/config"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Actions describes a prepared update: what to copy in, what to remove and
// where everything lives.
type Actions struct {
	Update             []string `json:"update"`
	Delete             []string `json:"delete"`
	ProjectPath        string   `json:"project_path"`
	DownloadsDirectory string   `json:"downloads_directory"`
	StartupPath        string   `json:"startup_path"`
	CloudConfigPath    string   `json:"cloud_config_path"`
	CloudHashDBPath    string   `json:"cloud_hash_db_path"`
	Cleanup            bool     `json:"cleanup"`
}

func Load(path string) (*Actions, error) {
	log.WithField("path", path).Info("loading actions file")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read actions file: %s", path)
	}

	var actions Actions

	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, errors.Wrapf(err, "cannot decode actions file: %s", path)
	}

	return &actions, nil
}

func (a *Actions) Save(path string) error {
	data, err := json.MarshalIndent(a, "", "    ")
	if err != nil {
		return errors.Wrap(err, "cannot encode actions")
	}

	return errors.Wrapf(os.WriteFile(path, data, 0o644), "cannot write actions file: %s", path)
}

// join resolves a project relative path and refuses anything that would
// land outside root.
func join(root, rel string) (string, error) {
	path := filepath.Join(root, filepath.FromSlash(rel))

	inside, err := filepath.Rel(root, path)
	if err != nil || inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("path escapes %s: %s", root, rel)
	}

	return path, nil
}

// Apply copies the updated files in place, removes deleted ones and swaps
// the local metadata with the cloud copies.
func (a *Actions) Apply(dryrun bool) error {
	log.WithFields(log.Fields{
		"update":  len(a.Update),
		"delete":  len(a.Delete),
		"project": a.ProjectPath,
		"dryrun":  dryrun,
	}).Info("applying update")

	if err := a.updateFiles(dryrun); err != nil {
		return errors.Wrap(err, "cannot update files")
	}

	if err := a.deleteFiles(dryrun); err != nil {
		return errors.Wrap(err, "cannot delete files")
	}

	if err := a.replaceMetadata(dryrun); err != nil {
		return errors.Wrap(err, "cannot update config and hash db")
	}

	if a.Cleanup && !dryrun {
		if err := os.RemoveAll(a.DownloadsDirectory); err != nil {
			return errors.Wrapf(err, "cannot clean up %s", a.DownloadsDirectory)
		}

		log.WithField("dir", a.DownloadsDirectory).Info("cleaned up downloads directory")
	}

	return nil
}

func (a *Actions) updateFiles(dryrun bool) error {
	var result *multierror.Error

	for _, file := range a.Update {
		src, err := join(a.DownloadsDirectory, file)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		dst, err := join(a.ProjectPath, file)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		log.WithFields(log.Fields{
			"src": src,
			"dst": dst,
		}).Debug("copying file")

		if dryrun {
			continue
		}

		if err := replace(src, dst); err != nil {
			result = multierror.Append(result, err)
		}
	}

	log.WithField("len", len(a.Update)).Info("updated files")

	return result.ErrorOrNil()
}

func (a *Actions) deleteFiles(dryrun bool) error {
	var result *multierror.Error

	for _, file := range a.Delete {
		path, err := join(a.ProjectPath, file)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		log.WithField("path", path).Debug("removing file")

		if dryrun {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, errors.Wrapf(err, "cannot remove %s", path))
			continue
		}

		dir := filepath.Dir(path)
		if dir == filepath.Clean(a.ProjectPath) {
			continue
		}

		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			if err := os.Remove(dir); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "cannot remove %s", dir))
				continue
			}

			log.WithField("dir", dir).Debug("removed empty directory")
		}
	}

	log.WithField("len", len(a.Delete)).Info("deleted files")

	return result.ErrorOrNil()
}

func (a *Actions) replaceMetadata(dryrun bool) error {
	dir := filepath.Join(a.ProjectPath, config.Dir)

	for _, src := range []string{a.CloudConfigPath, a.CloudHashDBPath} {
		if _, err := os.Stat(src); err != nil {
			return errors.Wrapf(err, "cloud file not found: %s", src)
		}

		dst := filepath.Join(dir, filepath.Base(src))

		log.WithFields(log.Fields{
			"src": src,
			"dst": dst,
		}).Debug("replacing metadata")

		if dryrun {
			continue
		}

		if err := replace(src, dst); err != nil {
			return err
		}
	}

	return nil
}

// replace copies src over dst, creating parent folders. An existing dst
// keeps its mode, a new one gets the mode of src.
func replace(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "cannot stat %s", src)
	}

	mode := info.Mode().Perm()

	if current, err := os.Stat(dst); err == nil {
		mode = current.Mode().Perm()
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "cannot create parent of %s", dst)
	}

	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "cannot remove %s", dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "cannot open %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrapf(err, "cannot create %s", dst)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return errors.Wrapf(err, "cannot copy %s to %s", src, dst)
	}

	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "cannot close %s", dst)
	}

	// umask applies to OpenFile.
	return errors.Wrapf(os.Chmod(dst, mode), "cannot chmod %s", dst)
}
