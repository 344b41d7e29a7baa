// Package lesson provides the practice lessons and grades answers to them.
//
// Lessons are YAML documents. A Catalog serves them from any fs.FS: the
// bundled set compiled into the binary, or a directory that Watch keeps in
// sync. A Grader decides whether a submitted query answers a lesson by
// comparing its result with the lesson's expected result.
package lesson

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soham407/sqlquest/internal/storage"
)

// ErrNotFound is returned by Source.Get for unknown ids.
var ErrNotFound = errors.New("lesson not found")

// Difficulty grades a lesson.
type Difficulty string

const (
	Beginner     Difficulty = "Beginner"
	Intermediate Difficulty = "Intermediate"
	Advanced     Difficulty = "Advanced"
)

// Valid reports whether d is one of the known difficulties.
func (d Difficulty) Valid() bool {
	switch d {
	case Beginner, Intermediate, Advanced:
		return true
	}
	return false
}

// Lesson is one exercise. Solution and Expected are never sent to clients.
type Lesson struct {
	ID            string     `yaml:"id" json:"id"`
	Order         int        `yaml:"order" json:"order"`
	Title         string     `yaml:"title" json:"title"`
	Description   string     `yaml:"description" json:"description"`
	Difficulty    Difficulty `yaml:"difficulty" json:"difficulty"`
	Category      string     `yaml:"category" json:"category"`
	Content       string     `yaml:"content" json:"content"`
	EstimatedTime int        `yaml:"estimated_time" json:"estimatedTime"` // minutes
	Hints         []string   `yaml:"hints" json:"hints"`
	// Ordered makes row order part of the answer.
	Ordered  bool      `yaml:"ordered" json:"ordered"`
	Solution string    `yaml:"solution" json:"-"`
	Expected *Expected `yaml:"expected" json:"-"`
}

// Expected is a literal answer, used instead of running the solution.
type Expected struct {
	Columns []string
	Rows    [][]storage.Value
}

// UnmarshalYAML converts plain YAML scalars into storage values.
func (e *Expected) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Columns []string `yaml:"columns"`
		Rows    [][]any  `yaml:"rows"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	e.Columns = raw.Columns
	e.Rows = make([][]storage.Value, len(raw.Rows))
	for i, r := range raw.Rows {
		if len(r) != len(raw.Columns) {
			return fmt.Errorf("line %d: expected row %d has %d values, want %d", node.Line, i+1, len(r), len(raw.Columns))
		}
		e.Rows[i] = make([]storage.Value, len(r))
		for j, x := range r {
			v, err := storage.FromAny(x)
			if err != nil {
				return fmt.Errorf("line %d: expected row %d: %w", node.Line, i+1, err)
			}
			e.Rows[i][j] = v
		}
	}
	return nil
}

func (l *Lesson) validate() error {
	switch {
	case strings.TrimSpace(l.ID) == "":
		return errors.New("missing id")
	case strings.TrimSpace(l.Title) == "":
		return fmt.Errorf("lesson %s: missing title", l.ID)
	case l.Difficulty != "" && !l.Difficulty.Valid():
		return fmt.Errorf("lesson %s: unknown difficulty %q", l.ID, l.Difficulty)
	case strings.TrimSpace(l.Solution) == "" && l.Expected == nil:
		return fmt.Errorf("lesson %s: needs a solution or an expected result", l.ID)
	}
	if l.Difficulty == "" {
		l.Difficulty = Beginner
	}
	return nil
}

// Source serves lessons.
type Source interface {
	List(ctx context.Context) ([]Lesson, error)
	Get(ctx context.Context, id string) (Lesson, error)
}
