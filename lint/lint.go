package lint

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Prefix starts every comment posted for leftover markers.
const Prefix = "Found DEBUG, TODO or FIXME comments:"

var (
	// DefaultMarkers are matched as literal substrings.
	DefaultMarkers = []string{"DEBUG:", "TODO:", "FIXME:"}
	// DefaultInclude are the file name globs that get scanned.
	DefaultInclude = []string{"*.py"}
	// DefaultBranches are the pull request base branches the check runs for.
	DefaultBranches = []string{"master", "staging"}
)

// Match is a single line carrying a marker.
type Match struct {
	Path string
	Line int
	Text string
}

func (m Match) String() string {
	return fmt.Sprintf("%s:%d:%s", m.Path, m.Line, m.Text)
}

func included(name string, include []string) bool {
	for _, glob := range include {
		if ok, _ := filepath.Match(glob, name); ok {
			return true
		}
	}

	return false
}

func marked(line string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(line, marker) {
			return true
		}
	}

	return false
}

// Scan walks root and returns every line of an included file that holds one
// of the markers. No matches is not an error.
func Scan(root string, include, markers []string) ([]Match, error) {
	if len(include) == 0 {
		include = DefaultInclude
	}

	if len(markers) == 0 {
		markers = DefaultMarkers
	}

	var matches []Match

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.Type().IsRegular() || !included(d.Name(), include) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		found, err := scanFile(path, filepath.ToSlash(rel), markers)
		if err != nil {
			return err
		}

		matches = append(matches, found...)

		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot scan %s", root)
	}

	log.WithFields(log.Fields{
		"root":    root,
		"matches": len(matches),
	}).Debug("scanned for markers")

	return matches, nil
}

func scanFile(path, rel string, markers []string) ([]Match, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var matches []Match

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if marked(text, markers) {
			matches = append(matches, Match{Path: rel, Line: line, Text: text})
		}
	}

	return matches, errors.Wrapf(scanner.Err(), "cannot read %s", path)
}

// Body renders the pull request comment, or "" when there is nothing to
// report.
func Body(matches []Match) string {
	if len(matches) == 0 {
		return ""
	}

	lines := make([]string, 0, len(matches)+1)
	lines = append(lines, Prefix)

	for _, match := range matches {
		lines = append(lines, match.String())
	}

	return strings.Join(lines, "\n")
}

// ShouldRun reports whether a pull request into base is checked.
func ShouldRun(base string, branches []string) bool {
	if len(branches) == 0 {
		branches = DefaultBranches
	}

	for _, branch := range branches {
		if branch == base {
			return true
		}
	}

	return false
}
