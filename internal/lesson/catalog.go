package lesson

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed lessons/*.yaml
var bundled embed.FS

// file is the layout of one lesson file.
type file struct {
	Lessons []Lesson `yaml:"lessons"`
}

// Catalog is a Source backed by the YAML files at the root of an fs.FS.
type Catalog struct {
	fsys fs.FS

	mu      sync.RWMutex
	lessons []Lesson
	byID    map[string]int
}

// NewCatalog loads every *.yaml and *.yml file at the root of fsys.
func NewCatalog(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{fsys: fsys}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Bundled returns a catalog of the lessons compiled into the binary.
func Bundled() (*Catalog, error) {
	sub, err := fs.Sub(bundled, "lessons")
	if err != nil {
		return nil, err
	}
	return NewCatalog(sub)
}

// Reload rereads the files. On error the previous contents stay in place.
func (c *Catalog) Reload() error {
	lessons, err := Load(c.fsys)
	if err != nil {
		return err
	}
	byID := make(map[string]int, len(lessons))
	for i, l := range lessons {
		byID[l.ID] = i
	}
	c.mu.Lock()
	c.lessons, c.byID = lessons, byID
	c.mu.Unlock()
	return nil
}

// Len returns the number of lessons.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lessons)
}

func (c *Catalog) List(context.Context) ([]Lesson, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Lesson, len(c.lessons))
	copy(out, c.lessons)
	return out, nil
}

func (c *Catalog) Get(_ context.Context, id string) (Lesson, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return Lesson{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.lessons[i], nil
}

// Load parses the lesson files at the root of fsys, validates them and
// sorts them by order, then id.
func Load(fsys fs.FS) ([]Lesson, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read lessons: %w", err)
	}
	var (
		out  []Lesson
		seen = make(map[string]string)
	)
	for _, e := range entries {
		if e.IsDir() || !isLessonFile(e.Name()) {
			continue
		}
		lessons, err := loadFile(fsys, e.Name())
		if err != nil {
			return nil, err
		}
		for _, l := range lessons {
			if prev, dup := seen[l.ID]; dup {
				return nil, fmt.Errorf("%s: duplicate lesson id %q (first defined in %s)", e.Name(), l.ID, prev)
			}
			seen[l.ID] = e.Name()
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func isLessonFile(name string) bool {
	switch path.Ext(name) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func loadFile(fsys fs.FS, name string) ([]Lesson, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	for i := range f.Lessons {
		if err := f.Lessons[i].validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return f.Lessons, nil
}
