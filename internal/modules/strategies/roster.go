// Package strategies loads the strategy roster: which symphonies run each
// cycle and with what share of the portfolio.
package strategies

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/aristath/symphony/internal/modules/dsl"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Strategy is one roster entry. When its source fails to parse, ParseErr is
// set and Symphony is nil; the failure belongs to this strategy alone.
type Strategy struct {
	ID       string
	Name     string
	Weight   decimal.Decimal
	Source   string
	Path     string
	Symphony *dsl.Symphony
	ParseErr error
}

// Ready reports whether the strategy parsed and can be evaluated.
func (s *Strategy) Ready() bool {
	return s.ParseErr == nil && s.Symphony != nil
}

// DisplayName returns Name, falling back to the symphony name and the id.
func (s *Strategy) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Symphony != nil && s.Symphony.Name != "":
		return s.Symphony.Name
	}
	return s.ID
}

type yamlDecimal struct {
	decimal.Decimal
}

// UnmarshalYAML reads the scalar text directly so weights never pass
// through float64.
func (d *yamlDecimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: weight must be a number", node.Line)
	}
	v, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid weight %q: %w", node.Line, node.Value, err)
	}
	d.Decimal = v
	return nil
}

type rosterFile struct {
	Strategies []struct {
		ID     string       `yaml:"id"`
		Name   string       `yaml:"name"`
		Weight *yamlDecimal `yaml:"weight"`
		Source string       `yaml:"source"`
		File   string       `yaml:"file"`
	} `yaml:"strategies"`
}

// Roster is a validated set of strategies whose weights sum to one.
type Roster struct {
	strategies []*Strategy
	byID       map[string]*Strategy
}

// NewRoster validates strategies and builds a roster.
func NewRoster(strategies []*Strategy) (*Roster, error) {
	contributions := make([]allocation.Contribution, len(strategies))
	for i, s := range strategies {
		if s.ID == "" {
			return nil, &allocation.ConfigurationError{Reason: fmt.Sprintf("strategy %d has no id", i)}
		}
		contributions[i] = allocation.Contribution{StrategyID: s.ID, Weight: s.Weight}
	}
	if err := allocation.ValidateWeights(contributions); err != nil {
		return nil, err
	}

	r := &Roster{strategies: strategies, byID: make(map[string]*Strategy, len(strategies))}
	for _, s := range strategies {
		r.byID[s.ID] = s
	}
	return r, nil
}

// Parse decodes a roster document. Relative file references resolve
// against baseDir. Per-strategy parse failures are recorded on the strategy;
// only document-level problems return an error.
func Parse(data []byte, baseDir string) (*Roster, error) {
	var doc rosterFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode roster: %w", err)
	}

	strategies := make([]*Strategy, 0, len(doc.Strategies))
	for i, entry := range doc.Strategies {
		if entry.Weight == nil {
			return nil, &allocation.ConfigurationError{StrategyID: entry.ID, Reason: fmt.Sprintf("strategy %d has no weight", i)}
		}
		s := &Strategy{ID: entry.ID, Name: entry.Name, Weight: entry.Weight.Decimal}

		switch {
		case entry.Source != "" && entry.File != "":
			return nil, &allocation.ConfigurationError{StrategyID: entry.ID, Reason: "set either source or file, not both"}
		case entry.File != "":
			s.Path = entry.File
			if !filepath.IsAbs(s.Path) {
				s.Path = filepath.Join(baseDir, s.Path)
			}
			src, err := os.ReadFile(s.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to read symphony for strategy %s: %w", entry.ID, err)
			}
			s.Source = string(src)
		case entry.Source != "":
			s.Source = entry.Source
		default:
			return nil, &allocation.ConfigurationError{StrategyID: entry.ID, Reason: "missing source or file"}
		}

		s.Symphony, s.ParseErr = dsl.ParseSymphony(s.Source)
		strategies = append(strategies, s)
	}

	return NewRoster(strategies)
}

// Load reads and parses the roster file at path.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster %s: %w", path, err)
	}
	return Parse(data, filepath.Dir(path))
}

// All returns the strategies in roster order.
func (r *Roster) All() []*Strategy {
	out := make([]*Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}

// IDs returns the strategy ids in roster order.
func (r *Roster) IDs() []string {
	out := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		out[i] = s.ID
	}
	return out
}

// Get looks a strategy up by id.
func (r *Roster) Get(id string) (*Strategy, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Source supplies the roster for a cycle.
type Source interface {
	Roster(ctx context.Context) (*Roster, error)
}

// FileSource re-reads the roster file on every call so edits apply from the
// next cycle. The last good roster stays available through Current.
type FileSource struct {
	path string
	log  zerolog.Logger

	mu      sync.RWMutex
	current *Roster
}

// NewFileSource creates a source reading path.
func NewFileSource(path string, log zerolog.Logger) *FileSource {
	return &FileSource{
		path: path,
		log:  log.With().Str("component", "strategy_roster").Str("path", path).Logger(),
	}
}

// Roster loads the file and logs strategies that failed to parse.
func (f *FileSource) Roster(_ context.Context) (*Roster, error) {
	r, err := Load(f.path)
	if err != nil {
		return nil, err
	}
	for _, s := range r.strategies {
		if s.ParseErr != nil {
			f.log.Warn().Err(s.ParseErr).Str("strategy", s.ID).Msg("Strategy failed to parse")
		}
	}

	f.mu.Lock()
	f.current = r
	f.mu.Unlock()
	return r, nil
}

// Current returns the last roster loaded, or nil.
func (f *FileSource) Current() *Roster {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// StaticSource serves a fixed roster.
type StaticSource struct {
	roster *Roster
}

// NewStaticSource wraps r.
func NewStaticSource(r *Roster) *StaticSource {
	return &StaticSource{roster: r}
}

// Roster returns the wrapped roster.
func (s *StaticSource) Roster(_ context.Context) (*Roster, error) {
	return s.roster, nil
}
