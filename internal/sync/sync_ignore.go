package sync

import (
	"bufio"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the root of the local tree
const IgnoreFileName = ".bdpanignore"

// IgnoreList decides which names are left out of a sync. Paths are
// relative to the synced root and slash separated.
type IgnoreList struct {
	ignore   *gitignore.GitIgnore
	excludes []string
}

// NewIgnoreList combines the .bdpanignore file at root (when present) and
// doublestar exclude patterns. Without either nothing is ignored.
func NewIgnoreList(fsys billy.Filesystem, root string, excludes []string) (*IgnoreList, error) {
	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, &os.PathError{Op: "exclude", Path: pattern, Err: doublestar.ErrBadPattern}
		}
	}

	var lines []string
	ignorePath := fsys.Join(root, IgnoreFileName)

	file, err := fsys.Open(ignorePath)
	switch {
	case err == nil:
		defer file.Close()
		rules := 0
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" && !strings.HasPrefix(line, "#") {
				lines = append(lines, line)
				rules++
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
		} else {
			slog.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
	}

	return &IgnoreList{
		ignore:   gitignore.CompileIgnoreLines(lines...),
		excludes: excludes,
	}, nil
}

// ShouldIgnore reports whether rel is excluded. A nil list ignores nothing.
func (l *IgnoreList) ShouldIgnore(rel string) bool {
	if l == nil {
		return false
	}
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}

	if l.ignore.MatchesPath(rel) {
		return true
	}
	for _, pattern := range l.excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, path.Base(rel)); ok {
			return true
		}
	}
	return false
}
