// Package markov provides the zone transition model: a validated
// row-stochastic matrix over named zones and a categorical sampler that
// draws from an explicitly supplied random source.
package markov

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Tolerance is the allowed deviation of a row sum from 1.
const Tolerance = 1e-6

var (
	// ErrInvalidZone is returned when a transition is requested for a zone
	// that has no row in the matrix.
	ErrInvalidZone = errors.New("invalid zone")

	// ErrMatrixInvariant is returned when a matrix is not row-stochastic
	// or references zones it does not define.
	ErrMatrixInvariant = errors.New("matrix invariant violation")
)

// Zone is a named discrete location a customer can occupy.
type Zone string

// Well-known zones of the default store.
const (
	ZoneEntrance Zone = "entrance"
	ZoneDairy    Zone = "dairy"
	ZoneDrinks   Zone = "drinks"
	ZoneFruit    Zone = "fruit"
	ZoneSpices   Zone = "spices"
	ZoneCheckout Zone = "checkout"
	ZoneExit     Zone = "exit"
)

// Row holds the outgoing probabilities of one zone, aligned with
// Matrix.Targets.
type Row struct {
	From  Zone
	Probs []float64
}

// Matrix is the raw transition table as ingested. Rows may include zones
// that never appear as targets (the entrance), but every target must have
// a row of its own.
type Matrix struct {
	Targets []Zone
	Rows    []Row
}

// Model is an immutable, validated transition model.
type Model struct {
	targets  []Zone
	rows     []Row
	index    map[Zone]int // zone → row index
	initial  Zone
	terminal Zone
}

// New validates m and returns a model with the given initial and terminal
// zones. The matrix is copied; later changes to m do not affect the model.
func New(m Matrix, initial, terminal Zone) (*Model, error) {
	if len(m.Targets) == 0 || len(m.Rows) == 0 {
		return nil, fmt.Errorf("%w: empty matrix", ErrMatrixInvariant)
	}

	targets := make([]Zone, len(m.Targets))
	copy(targets, m.Targets)
	seen := make(map[Zone]bool, len(targets))
	for _, t := range targets {
		if seen[t] {
			return nil, fmt.Errorf("%w: duplicate target %q", ErrMatrixInvariant, t)
		}
		seen[t] = true
	}

	rows := make([]Row, len(m.Rows))
	index := make(map[Zone]int, len(m.Rows))
	for i, r := range m.Rows {
		if _, dup := index[r.From]; dup {
			return nil, fmt.Errorf("%w: duplicate row %q", ErrMatrixInvariant, r.From)
		}
		if len(r.Probs) != len(targets) {
			return nil, fmt.Errorf("%w: row %q has %d entries, want %d",
				ErrMatrixInvariant, r.From, len(r.Probs), len(targets))
		}
		sum := 0.0
		for j, p := range r.Probs {
			if math.IsNaN(p) || p < 0 {
				return nil, fmt.Errorf("%w: row %q has invalid probability %v for %q",
					ErrMatrixInvariant, r.From, p, targets[j])
			}
			sum += p
		}
		if math.Abs(sum-1) > Tolerance {
			return nil, fmt.Errorf("%w: row %q sums to %.9f",
				ErrMatrixInvariant, r.From, sum)
		}
		probs := make([]float64, len(r.Probs))
		copy(probs, r.Probs)
		rows[i] = Row{From: r.From, Probs: probs}
		index[r.From] = i
	}

	for _, t := range targets {
		if _, ok := index[t]; !ok {
			return nil, fmt.Errorf("%w: target %q has no row", ErrMatrixInvariant, t)
		}
	}
	if _, ok := index[initial]; !ok {
		return nil, fmt.Errorf("%w: initial zone %q has no row", ErrMatrixInvariant, initial)
	}
	if _, ok := index[terminal]; !ok {
		return nil, fmt.Errorf("%w: terminal zone %q has no row", ErrMatrixInvariant, terminal)
	}

	return &Model{
		targets:  targets,
		rows:     rows,
		index:    index,
		initial:  initial,
		terminal: terminal,
	}, nil
}

// Sample draws the zone following current from its row's categorical
// distribution, consuming randomness only from rng.
func (m *Model) Sample(current Zone, rng *rand.Rand) (Zone, error) {
	i, ok := m.index[current]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidZone, current)
	}
	c := distuv.NewCategorical(m.rows[i].Probs, rng)
	return m.targets[int(c.Rand())], nil
}

// Initial returns the zone every customer starts in.
func (m *Model) Initial() Zone { return m.initial }

// Terminal returns the zone that ends a visit.
func (m *Model) Terminal() Zone { return m.terminal }

// Targets returns the zones that can be transitioned into, in column order.
func (m *Model) Targets() []Zone {
	out := make([]Zone, len(m.targets))
	copy(out, m.targets)
	return out
}

// Zones returns every zone with a row, in ingestion order.
func (m *Model) Zones() []Zone {
	out := make([]Zone, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.From
	}
	return out
}

// Row returns a copy of the probabilities for zone z, aligned with Targets.
func (m *Model) Row(z Zone) ([]float64, error) {
	i, ok := m.index[z]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidZone, z)
	}
	out := make([]float64, len(m.rows[i].Probs))
	copy(out, m.rows[i].Probs)
	return out, nil
}

// Occupancy returns the expected share of the first steps transitions a
// zone-only walk starting at the initial zone spends in each zone.
func (m *Model) Occupancy(steps int) map[Zone]float64 {
	n := len(m.rows)
	p := mat.NewDense(n, n, nil)
	for i, r := range m.rows {
		for j, prob := range r.Probs {
			p.Set(i, m.index[m.targets[j]], prob)
		}
	}

	cur := mat.NewVecDense(n, nil)
	cur.SetVec(m.index[m.initial], 1)
	acc := mat.NewVecDense(n, nil)
	next := mat.NewVecDense(n, nil)
	for s := 0; s < steps; s++ {
		next.MulVec(p.T(), cur)
		acc.AddVec(acc, next)
		cur, next = next, cur
	}

	out := make(map[Zone]float64, n)
	if steps <= 0 {
		return out
	}
	for i, r := range m.rows {
		out[r.From] = acc.AtVec(i) / float64(steps)
	}
	return out
}
