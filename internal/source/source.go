// Package source loads interview material (transcripts and notes) from the
// places a consultant keeps it: local files or an HTTP endpoint such as a
// document store export.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupported is returned when no loader handles a reference.
var ErrUnsupported = errors.New("unsupported source")

// Loader fetches the text behind a reference.
//
// Implementations must respect ctx cancellation. The reference format is
// loader specific: a path for FileLoader, an absolute URL for HTTPLoader.
type Loader interface {
	// Name identifies the loader in errors and logs, e.g. "file" or "http".
	Name() string

	// Load returns the document text.
	Load(ctx context.Context, ref string) (string, error)
}

// Resolver dispatches a reference to a loader by URL scheme. References
// without a scheme go to the "file" loader.
type Resolver struct {
	loaders map[string]Loader
}

// NewResolver returns a resolver for local files and http(s) URLs.
func NewResolver() *Resolver {
	r := &Resolver{loaders: make(map[string]Loader)}
	r.Register("file", FileLoader{})
	http := NewHTTPLoader()
	r.Register("http", http)
	r.Register("https", http)
	return r
}

// Register binds scheme to l, replacing any previous loader.
func (r *Resolver) Register(scheme string, l Loader) {
	r.loaders[strings.ToLower(scheme)] = l
}

// Load fetches ref with the loader for its scheme.
func (r *Resolver) Load(ctx context.Context, ref string) (string, error) {
	scheme := "file"
	if u, err := url.Parse(ref); err == nil && len(u.Scheme) > 1 {
		// A single letter is a Windows drive, not a scheme.
		scheme = strings.ToLower(u.Scheme)
	}
	l, ok := r.loaders[scheme]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ref)
	}
	text, err := l.Load(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("%s source %s: %w", l.Name(), ref, err)
	}
	return text, nil
}

// LoadAll fetches refs in order and stops at the first failure.
func (r *Resolver) LoadAll(ctx context.Context, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		text, err := r.Load(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, nil
}
