package hashing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/mhristof/upgrader/config"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	chunkSize      = 4096
	largeChunkSize = 8192
	largeFile      = 1_000_000_000
)

// FileHash is a project relative path and the sha256 of its contents.
type FileHash struct {
	Path string
	Hash string
}

type Hasher struct {
	// Workers bounds the number of files hashed at the same time. Zero means
	// runtime.NumCPU().
	Workers int
}

// Hash returns the hex encoded sha256 of the file at path.
func (h *Hasher) Hash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "cannot hash file: %s", path)
	}

	size := chunkSize
	if info.Size() > largeFile {
		size = largeChunkSize
	}

	file, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "cannot hash file: %s", path)
	}
	defer file.Close()

	hasher := sha256.New()

	if _, err := io.CopyBuffer(hasher, file, make([]byte, size)); err != nil {
		return "", errors.Wrapf(err, "cannot hash file: %s", path)
	}

	log.WithFields(log.Fields{
		"path":  path,
		"size":  info.Size(),
		"chunk": size,
	}).Trace("hashed file")

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

type excluder struct {
	root     string
	paths    map[string]struct{}
	patterns []*regexp.Regexp
}

func newExcluder(root string, paths, patterns []string) (*excluder, error) {
	e := &excluder{
		root:  root,
		paths: map[string]struct{}{},
	}

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot resolve exclude path: %s", path)
		}

		e.paths[config.Normalize(filepath.ToSlash(abs))] = struct{}{}
	}

	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid exclude pattern: %s", pattern)
		}

		e.patterns = append(e.patterns, re)
	}

	return e, nil
}

// match reports whether path, or one of its parents, is excluded. Patterns
// are matched against the project relative path with a leading slash.
func (e *excluder) match(path string) bool {
	slashed := config.Normalize(filepath.ToSlash(path))

	for excluded := range e.paths {
		if slashed == excluded || strings.HasPrefix(slashed, excluded+"/") {
			return true
		}
	}

	rel, err := filepath.Rel(e.root, path)
	if err != nil {
		return false
	}

	rel = "/" + filepath.ToSlash(rel)

	for _, re := range e.patterns {
		if re.MatchString(rel) {
			return true
		}
	}

	return false
}

// CreateDB hashes every non excluded file under dir into a fresh database
// at dbPath. An existing database at dbPath is replaced.
func (h *Hasher) CreateDB(ctx context.Context, dir, dbPath string, excludePaths, excludePatterns []string) (string, error) {
	log.WithFields(log.Fields{
		"dir":      dir,
		"db":       dbPath,
		"paths":    excludePaths,
		"patterns": excludePatterns,
	}).Info("creating hash database")

	root, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrapf(err, "cannot resolve directory: %s", dir)
	}

	info, err := os.Stat(root)
	if err != nil {
		return "", errors.Wrapf(err, "directory does not exist: %s", dir)
	}

	if !info.IsDir() {
		return "", errors.Errorf("not a directory: %s", dir)
	}

	if err := os.Remove(dbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", errors.Wrapf(err, "cannot remove existing file: %s", dbPath)
	}

	exclude, err := newExcluder(root, excludePaths, excludePatterns)
	if err != nil {
		return "", err
	}

	var files []string

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path == root {
			return nil
		}

		if exclude.match(path) {
			log.WithField("path", path).Debug("skipping")

			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.Type().IsRegular() {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "cannot walk %s", root)
	}

	rows, err := h.hashAll(ctx, root, files)
	if err != nil {
		return "", err
	}

	db, err := Create(ctx, dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	if err := db.Insert(ctx, rows); err != nil {
		return "", err
	}

	log.WithFields(log.Fields{
		"db":  dbPath,
		"len": len(rows),
	}).Info("hash database created")

	return dbPath, nil
}

func (h *Hasher) hashAll(ctx context.Context, root string, files []string) ([]FileHash, error) {
	workers := h.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var (
		mutex sync.Mutex
		rows  = make([]FileHash, 0, len(files))
	)

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for _, file := range files {
		file := file

		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			hash, err := h.Hash(file)
			if err != nil {
				return err
			}

			rel, err := filepath.Rel(root, file)
			if err != nil {
				return errors.Wrapf(err, "cannot make %s relative", file)
			}

			mutex.Lock()
			rows = append(rows, FileHash{Path: filepath.ToSlash(rel), Hash: hash})
			mutex.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, errors.Wrap(err, "cannot hash files")
	}

	return rows, nil
}
