// Package templates renders the notifier's HTML e-mail templates and
// derives a plain-text alternative from the result.
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrTemplateNotFound is returned for unknown keys and for keys whose file
// is missing from every search root.
var ErrTemplateNotFound = errors.New("templates: template not found")

// DefaultRoots are searched in order: build output first, then sources.
var DefaultRoots = []string{"dist/templates", "templates"}

// Rendered is the result of a render.
type Rendered struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

// Renderer compiles templates on first use and caches them by absolute
// file path for the life of the process.
type Renderer struct {
	roots    []string
	readFile func(string) ([]byte, error)

	mu       sync.RWMutex
	paths    map[Key]string
	compiled map[string]*template.Template
}

// NewRenderer creates a renderer over the given search roots. Relative
// roots resolve against the working directory. Nil roots use DefaultRoots.
func NewRenderer(roots []string) *Renderer {
	if len(roots) == 0 {
		roots = DefaultRoots
	}
	return &Renderer{
		roots:    append([]string(nil), roots...),
		readFile: os.ReadFile,
		paths:    make(map[Key]string),
		compiled: make(map[string]*template.Template),
	}
}

// Roots returns the configured search roots.
func (r *Renderer) Roots() []string {
	return append([]string(nil), r.roots...)
}

// Render executes the template for key against data. Keys referenced by
// the template but absent from data render as empty strings.
func (r *Renderer) Render(key Key, data map[string]any) (Rendered, error) {
	if !key.Valid() {
		return Rendered{}, fmt.Errorf("%w: unknown key %q", ErrTemplateNotFound, key)
	}

	tpl, err := r.load(key)
	if err != nil {
		return Rendered{}, err
	}

	if data == nil {
		data = map[string]any{}
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return Rendered{}, fmt.Errorf("execute template %s: %w", key, err)
	}

	html := buf.String()
	return Rendered{HTML: html, Text: HTMLToText(html)}, nil
}

// Preload compiles every known template and returns the joined errors of
// the ones that could not be loaded.
func (r *Renderer) Preload() error {
	var errs []error
	for _, key := range knownKeys {
		if _, err := r.load(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Renderer) load(key Key) (*template.Template, error) {
	r.mu.RLock()
	if path, ok := r.paths[key]; ok {
		tpl := r.compiled[path]
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if path, ok := r.paths[key]; ok {
		return r.compiled[path], nil
	}

	path, src, err := r.find(key)
	if err != nil {
		return nil, err
	}

	tpl, ok := r.compiled[path]
	if !ok {
		tpl, err = template.New(key.FileName()).Parse(string(src))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", path, err)
		}
		r.compiled[path] = tpl
	}
	r.paths[key] = path
	return tpl, nil
}

// find returns the first existing file for key across the roots.
func (r *Renderer) find(key Key) (string, []byte, error) {
	for _, root := range r.roots {
		path, err := filepath.Abs(filepath.Join(root, key.FileName()))
		if err != nil {
			return "", nil, fmt.Errorf("resolve template path: %w", err)
		}
		src, err := r.readFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("read template %s: %w", path, err)
		}
		return path, src, nil
	}
	return "", nil, fmt.Errorf("%w: %s not in [%s]", ErrTemplateNotFound, key.FileName(), strings.Join(r.roots, ", "))
}
