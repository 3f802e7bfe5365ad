package storage

import (
	"path"
	"strings"
)

// CleanPath normalizes a remote path to an absolute slash-separated form.
// Backslashes from Windows-style input are converted.
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Join joins remote path elements
func Join(elem ...string) string {
	return CleanPath(path.Join(elem...))
}

// Split returns the parent directory and base name of a remote path
func Split(p string) (string, string) {
	p = CleanPath(p)
	if p == "/" {
		return "/", ""
	}
	return path.Dir(p), path.Base(p)
}

// IsWithin reports whether p equals root or is below it
func IsWithin(p, root string) bool {
	p, root = CleanPath(p), CleanPath(root)
	if root == "/" || p == root {
		return true
	}
	return strings.HasPrefix(p, root+"/")
}
