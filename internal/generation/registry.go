// Package generation holds the static table of generation id ranges.
package generation

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed generations.yaml
var defaultGenerations []byte

// ErrNotFound is returned for generation indices that are not configured.
var ErrNotFound = errors.New("generation not found")

// Range is one generation: an inclusive block of species ids plus display
// metadata.
type Range struct {
	Index       int      `yaml:"index" json:"index"`
	Name        string   `yaml:"name" json:"name"`
	Region      string   `yaml:"region" json:"region"`
	StartID     int      `yaml:"start_id" json:"start_id"`
	EndID       int      `yaml:"end_id" json:"end_id"`
	Year        int      `yaml:"year" json:"year"`
	Color       string   `yaml:"color" json:"color"`
	Icon        string   `yaml:"icon" json:"icon,omitempty"`
	Games       []string `yaml:"games" json:"games"`
	Description string   `yaml:"description" json:"description,omitempty"`
}

// ExpectedCount is the number of ids in the range.
func (r Range) ExpectedCount() int {
	return r.EndID - r.StartID + 1
}

// Contains reports whether id falls inside the range.
func (r Range) Contains(id int) bool {
	return id >= r.StartID && id <= r.EndID
}

// Status is a range together with its computed completeness.
type Status struct {
	Range
	ExpectedCount int  `json:"expected_count"`
	ObservedCount int  `json:"observed_count"`
	IsComplete    bool `json:"is_complete"`
}

// CountFunc counts stored species with ids in [startID, endID].
type CountFunc func(ctx context.Context, startID, endID int) (int, error)

// Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	ranges  []Range
	byIndex map[int]Range
}

type file struct {
	Generations []Range `yaml:"generations"`
}

// Default returns the registry built from the embedded table.
func Default() (*Registry, error) {
	return Parse(defaultGenerations)
}

// Load reads a registry from path, or the embedded table when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read generations file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML generation table.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse generations: %w", err)
	}
	return New(f.Generations)
}

// New validates ranges and builds a registry. Indices must be unique, every
// range must satisfy 1 <= start <= end, and ranges may not overlap.
func New(ranges []Range) (*Registry, error) {
	if len(ranges) == 0 {
		return nil, errors.New("no generations configured")
	}

	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartID < sorted[j].StartID })

	byIndex := make(map[int]Range, len(sorted))
	for i, r := range sorted {
		if r.Index <= 0 {
			return nil, fmt.Errorf("generation %q: index must be positive", r.Name)
		}
		if _, dup := byIndex[r.Index]; dup {
			return nil, fmt.Errorf("generation %d: duplicate index", r.Index)
		}
		if r.StartID < 1 || r.StartID > r.EndID {
			return nil, fmt.Errorf("generation %d: invalid range %d-%d", r.Index, r.StartID, r.EndID)
		}
		if i > 0 && sorted[i-1].EndID >= r.StartID {
			return nil, fmt.Errorf("generation %d overlaps generation %d", r.Index, sorted[i-1].Index)
		}
		byIndex[r.Index] = r
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	return &Registry{ranges: sorted, byIndex: byIndex}, nil
}

// RangeFor returns the generation with the given index.
func (r *Registry) RangeFor(index int) (Range, error) {
	g, ok := r.byIndex[index]
	if !ok {
		return Range{}, fmt.Errorf("%w: %d", ErrNotFound, index)
	}
	return g, nil
}

// All returns every generation ordered by index.
func (r *Registry) All() []Range {
	out := make([]Range, len(r.ranges))
	copy(out, r.ranges)
	return out
}

// ForID returns the generation whose range contains id.
func (r *Registry) ForID(id int) (Range, bool) {
	for _, g := range r.ranges {
		if g.Contains(id) {
			return g, true
		}
	}
	return Range{}, false
}

// ByRegion finds a generation by region name, case-insensitively.
func (r *Registry) ByRegion(region string) (Range, bool) {
	for _, g := range r.ranges {
		if strings.EqualFold(g.Region, region) {
			return g, true
		}
	}
	return Range{}, false
}

// TotalExpected is the number of ids across all generations.
func (r *Registry) TotalExpected() int {
	total := 0
	for _, g := range r.ranges {
		total += g.ExpectedCount()
	}
	return total
}

// ObservedCount asks the store how many ids of the generation exist.
// Completeness and Summary count through it.
func (r *Registry) ObservedCount(ctx context.Context, index int, count CountFunc) (int, error) {
	g, err := r.RangeFor(index)
	if err != nil {
		return 0, err
	}
	n, err := count(ctx, g.StartID, g.EndID)
	if err != nil {
		return 0, fmt.Errorf("count generation %d: %w", index, err)
	}
	return n, nil
}

// Completeness computes the observed count and completion flag for index.
func (r *Registry) Completeness(ctx context.Context, index int, count CountFunc) (Status, error) {
	g, err := r.RangeFor(index)
	if err != nil {
		return Status{}, err
	}
	n, err := r.ObservedCount(ctx, index, count)
	if err != nil {
		return Status{}, err
	}
	return newStatus(g, n), nil
}

// Summary computes completeness for every generation.
func (r *Registry) Summary(ctx context.Context, count CountFunc) ([]Status, error) {
	out := make([]Status, 0, len(r.ranges))
	for _, g := range r.ranges {
		n, err := r.ObservedCount(ctx, g.Index, count)
		if err != nil {
			return nil, err
		}
		out = append(out, newStatus(g, n))
	}
	return out, nil
}

func newStatus(g Range, observed int) Status {
	return Status{
		Range:         g,
		ExpectedCount: g.ExpectedCount(),
		ObservedCount: observed,
		IsComplete:    observed == g.ExpectedCount(),
	}
}
