package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"time"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrMiss is returned by Load when there is no usable entry for the key.
var ErrMiss = errors.New("cache miss")

type entry struct {
	Key       string          `json:"key"`
	WrittenAt time.Time       `json:"written_at"`
	Data      json.RawMessage `json:"data"`
}

func path(key string) (string, error) {
	sum := sha1.Sum([]byte(key))

	path, err := xdg.CacheFile("upgrader/" + hex.EncodeToString(sum[:]) + ".json")
	if err != nil {
		return "", errors.Wrap(err, "cannot resolve cache file")
	}

	return path, nil
}

func Write(key string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "cannot encode cache data")
	}

	dataJSON, err := json.MarshalIndent(entry{Key: key, WrittenAt: time.Now(), Data: raw}, "", "    ")
	if err != nil {
		return errors.Wrap(err, "cannot encode cache entry")
	}

	file, err := path(key)
	if err != nil {
		return err
	}

	if err := os.WriteFile(file, dataJSON, 0o644); err != nil {
		return errors.Wrapf(err, "cannot write cache file: %s", file)
	}

	log.WithFields(log.Fields{
		"file": file,
		"key":  key,
	}).Debug("wrote to cache")

	return nil
}

// Load decodes the entry stored for key into data, as long as it is younger
// than maxAge.
func Load(key string, maxAge time.Duration, data interface{}) error {
	file, err := path(key)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return ErrMiss
	}

	if err != nil {
		return errors.Wrapf(err, "cannot read cache file: %s", file)
	}

	var cached entry
	if err := json.Unmarshal(raw, &cached); err != nil {
		return errors.Wrapf(err, "cannot decode cache file: %s", file)
	}

	if cached.Key != key || time.Since(cached.WrittenAt) > maxAge {
		log.WithFields(log.Fields{
			"key":     key,
			"written": cached.WrittenAt,
		}).Debug("stale cache entry")

		return ErrMiss
	}

	return errors.Wrap(json.Unmarshal(cached.Data, data), "cannot decode cached data")
}

// Delete drops the entry stored for key. A missing entry is not an error.
func Delete(key string) error {
	file, err := path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "cannot remove cache file: %s", file)
	}

	log.WithField("key", key).Debug("dropped cache entry")

	return nil
}
