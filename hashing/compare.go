package hashing

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
)

// Mismatch is a file present in both databases with different hashes.
type Mismatch struct {
	Path  string
	Local string
	Cloud string
}

// Summary is the difference between a local and a cloud hash database.
type Summary struct {
	LocalOnly []string
	CloudOnly []string
	OK        []FileHash
	Bad       []Mismatch
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"Unique files in local database: %d\nUnique files in cloud database: %d\nFiles with matching hashes: %d\nFiles with different hashes: %d",
		len(s.LocalOnly), len(s.CloudOnly), len(s.OK), len(s.Bad),
	)
}

// Changed returns the cloud files that are missing or outdated locally.
func (s Summary) Changed() []string {
	ret := make([]string, 0, len(s.CloudOnly)+len(s.Bad))
	ret = append(ret, s.CloudOnly...)

	for _, bad := range s.Bad {
		ret = append(ret, bad.Path)
	}

	return ret
}

// Compare loads both databases and summarises their differences.
func Compare(ctx context.Context, localPath, cloudPath string) (*Summary, error) {
	log.WithFields(log.Fields{
		"local": localPath,
		"cloud": cloudPath,
	}).Info("comparing hash databases")

	local, err := readAll(ctx, localPath)
	if err != nil {
		return nil, err
	}

	cloud, err := readAll(ctx, cloudPath)
	if err != nil {
		return nil, err
	}

	summary := Summary{
		LocalOnly: []string{},
		CloudOnly: []string{},
		OK:        []FileHash{},
		Bad:       []Mismatch{},
	}

	for path, hash := range local {
		cloudHash, ok := cloud[path]

		switch {
		case !ok:
			summary.LocalOnly = append(summary.LocalOnly, path)
		case cloudHash == hash:
			summary.OK = append(summary.OK, FileHash{Path: path, Hash: hash})
		default:
			summary.Bad = append(summary.Bad, Mismatch{Path: path, Local: hash, Cloud: cloudHash})
		}
	}

	for path := range cloud {
		if _, ok := local[path]; !ok {
			summary.CloudOnly = append(summary.CloudOnly, path)
		}
	}

	sort.Strings(summary.LocalOnly)
	sort.Strings(summary.CloudOnly)
	sort.Slice(summary.OK, func(i, j int) bool { return summary.OK[i].Path < summary.OK[j].Path })
	sort.Slice(summary.Bad, func(i, j int) bool { return summary.Bad[i].Path < summary.Bad[j].Path })

	log.WithFields(log.Fields{
		"localOnly": len(summary.LocalOnly),
		"cloudOnly": len(summary.CloudOnly),
		"ok":        len(summary.OK),
		"bad":       len(summary.Bad),
	}).Debug("compared hash databases")

	return &summary, nil
}

func readAll(ctx context.Context, path string) (map[string]string, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return db.All(ctx)
}
