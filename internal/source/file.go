package source

import (
	"context"
	"net/url"
	"os"
	"strings"
)

// FileLoader reads local files. Both plain paths and file:// URLs are
// accepted.
type FileLoader struct{}

// Name implements Loader.
func (FileLoader) Name() string { return "file" }

// Load implements Loader.
func (FileLoader) Load(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := ref
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", err
		}
		path = u.Path
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
