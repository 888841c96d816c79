package cdn

import (
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
)

// ErrUnknownExtension is returned when a source URL's last path segment
// has no file extension.
var ErrUnknownExtension = errors.New("cannot determine file extension")

// Extension returns the extension of the last path segment of sourceURL,
// without the dot.
func Extension(sourceURL string) (string, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	ext := strings.TrimPrefix(path.Ext(path.Base(parsed.Path)), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownExtension, sourceURL)
	}
	return ext, nil
}

func contentType(ext string) string {
	if t := mime.TypeByExtension("." + strings.ToLower(ext)); t != "" {
		return t
	}
	return "application/octet-stream"
}
