package lipsync

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultIntensity is used for labels missing from a table.
const DefaultIntensity = 0.5

var ErrIntensityRange = errors.New("intensity outside [0,1]")

// Table maps unit labels to how far the mouth opens for them. A table never
// changes after construction and is safe to share between goroutines.
type Table struct {
	entries map[string]float64
	def     float64
}

// NewTable validates entries and the default. Labels are matched case-insensitively.
func NewTable(entries map[string]float64, def float64) (*Table, error) {
	if !inUnitRange(def) {
		return nil, fmt.Errorf("default %v: %w", def, ErrIntensityRange)
	}

	t := &Table{
		entries: make(map[string]float64, len(entries)),
		def:     def,
	}
	for label, v := range entries {
		if !inUnitRange(v) {
			return nil, fmt.Errorf("unit %q = %v: %w", label, v, ErrIntensityRange)
		}
		t.entries[strings.ToLower(label)] = v
	}
	return t, nil
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// referenceTable is the jaw opening per unit in radians, max 0.3.
var referenceTable = map[string]float64{
	"a":   0.3,
	"e":   0.15,
	"i":   0.1,
	"o":   0.25,
	"u":   0.15,
	"th":  0.2,
	"s":   0.05,
	"r":   0.2,
	"p":   0.0,
	"f":   0.1,
	"d":   0.2,
	"ch":  0.1,
	"n":   0.15,
	"k":   0.2,
	"sil": 0.0,
}

const referenceMaxOpening = 0.3

// DefaultTable returns the reference table normalised to [0,1].
func DefaultTable() *Table {
	entries := make(map[string]float64, len(referenceTable))
	for label, radians := range referenceTable {
		entries[label] = radians / referenceMaxOpening
	}
	return &Table{entries: entries, def: DefaultIntensity}
}

// Lookup returns the intensity for label or the table default.
func (t *Table) Lookup(label string) float64 {
	if v, ok := t.entries[strings.ToLower(label)]; ok {
		return v
	}
	return t.def
}

// Has reports whether label has its own entry rather than the default.
func (t *Table) Has(label string) bool {
	_, ok := t.entries[strings.ToLower(label)]
	return ok
}

func (t *Table) Default() float64 {
	return t.def
}

// Labels returns the known labels sorted.
func (t *Table) Labels() []string {
	labels := make([]string, 0, len(t.entries))
	for l := range t.entries {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Entries returns a copy of the label map.
func (t *Table) Entries() map[string]float64 {
	out := make(map[string]float64, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

type tableFile struct {
	Default *float64           `yaml:"default"`
	Units   map[string]float64 `yaml:"units"`
}

// ParseTable reads a YAML table:
//
//	default: 0.5
//	units:
//	  a: 1.0
//	  sil: 0
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse articulation table: %w", err)
	}
	def := DefaultIntensity
	if f.Default != nil {
		def = *f.Default
	}
	return NewTable(f.Units, def)
}

// LoadTableFile reads a YAML table from disk.
func LoadTableFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read articulation table: %w", err)
	}
	return ParseTable(data)
}
