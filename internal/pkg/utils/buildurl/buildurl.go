// Package buildurl joins a server URL, path segments and query parameters.
package buildurl

import (
	"net/url"
	"strings"
)

// Builder collects the parts of a URL. Use New unless the parts are added incrementally.
type Builder struct {
	base     string
	segments []string
	query    url.Values
}

type Option func(*Builder)

// WithBasePath sets the scheme, host and optional base path, e.g. http://srv:8000/ota/.
func WithBasePath(base string) Option {
	return func(b *Builder) {
		b.base = strings.TrimRight(base, "/")
	}
}

// WithPathElement appends a segment, "manifest.json" and "/manifest.json" are equivalent.
// Empty segments are skipped.
func WithPathElement(segment string) Option {
	return func(b *Builder) {
		if segment = strings.Trim(segment, "/"); segment != "" {
			b.segments = append(b.segments, segment)
		}
	}
}

// WithQueryParam adds a query parameter. Parameters are encoded sorted by key.
func WithQueryParam(key, value string) Option {
	return func(b *Builder) {
		if b.query == nil {
			b.query = url.Values{}
		}
		b.query.Add(key, value)
	}
}

func NewBuilder(options ...Option) *Builder {
	b := &Builder{}
	b.Apply(options...)
	return b
}

func (b *Builder) Apply(options ...Option) {
	for _, option := range options {
		option(b)
	}
}

func (b *Builder) String() string {
	s := strings.Join(append([]string{b.base}, b.segments...), "/")
	if len(b.query) > 0 {
		s += "?" + b.query.Encode()
	}
	return s
}

// New returns the URL built from options.
func New(options ...Option) string {
	return NewBuilder(options...).String()
}
