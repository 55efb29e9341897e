package archive

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrPathTraversal rejects request paths that could escape the archive.
var ErrPathTraversal = errors.New("path traversal rejected")

var systemPrefixes = []string{"/etc/", "/proc/", "/sys/", "/dev/"}

// SanitizeRequestPath validates a decoded request path and returns it cleaned,
// rooted at "/", with any trailing slash kept.
func SanitizeRequestPath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: NUL byte", ErrPathTraversal)
	}
	if strings.Contains(p, `\`) {
		return "", fmt.Errorf("%w: backslash in %q", ErrPathTraversal, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, p)
		}
	}
	rooted := "/" + strings.TrimLeft(p, "/")
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(rooted, prefix) {
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, p)
		}
	}
	clean := path.Clean(rooted)
	if strings.HasSuffix(p, "/") && clean != "/" {
		clean += "/"
	}
	return clean, nil
}
