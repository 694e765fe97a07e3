// Procedural obstacle generation using layered simplex noise.
package world

import (
	"fmt"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/mini-market/internal/markov"
)

// ClutterTile marks a generated obstacle when a plan is rendered.
const ClutterTile = 'x'

// ClutterConfig holds obstacle generation parameters.
type ClutterConfig struct {
	Rows      int
	Cols      int
	Seed      int64
	Density   float64 // noise threshold; cells above 1-Density become obstacles
	Frequency float64
	Octaves   int
}

// DefaultClutterConfig returns a moderately cluttered 24×32 grid.
func DefaultClutterConfig() ClutterConfig {
	return ClutterConfig{
		Rows:      24,
		Cols:      32,
		Seed:      42,
		Density:   0.35,
		Frequency: 0.18,
		Octaves:   3,
	}
}

// GenerateClutter returns a grid whose obstacles follow a noise field.
// The same config always yields the same grid.
func GenerateClutter(cfg ClutterConfig) *Grid {
	g := OpenGrid(cfg.Rows, cfg.Cols)
	field := clutterField(cfg)
	for i := range g.blocked {
		c := g.CellAt(i)
		g.blocked[i] = field(c)
	}
	return g
}

// GenerateFloorPlan scatters noise obstacles over the open floor of base,
// leaving zone areas and the entry clear. Seeds are tried in turn until the
// result validates; base dimensions override cfg.Rows and cfg.Cols.
func GenerateFloorPlan(base *FloorPlan, cfg ClutterConfig) (*FloorPlan, error) {
	const attempts = 8

	var lastErr error
	for i := 0; i < attempts; i++ {
		try := cfg
		try.Seed = cfg.Seed + int64(i)
		p := clutterPlan(base, try)
		if err := p.Validate(); err != nil {
			lastErr = err
			continue
		}
		return p, nil
	}
	return nil, fmt.Errorf("generate floor plan after %d seeds: %w", attempts, lastErr)
}

func clutterPlan(base *FloorPlan, cfg ClutterConfig) *FloorPlan {
	field := clutterField(cfg)
	var extra []Cell
	layout := make([]string, len(base.Layout))
	for r, line := range base.Layout {
		runes := []rune(line)
		for c := range runes {
			cell := Cell{Row: r, Col: c}
			if !base.Grid.Walkable(cell) || cell == base.Entry || base.inArea(cell) {
				continue
			}
			if field(cell) {
				extra = append(extra, cell)
				runes[c] = ClutterTile
			}
		}
		layout[r] = string(runes)
	}

	areas := make(map[markov.Zone]Area, len(base.Areas))
	for z, a := range base.Areas {
		areas[z] = a
	}
	return &FloorPlan{
		Grid:   base.Grid.WithBlocked(extra...),
		Layout: layout,
		Entry:  base.Entry,
		Areas:  areas,
	}
}

func (p *FloorPlan) inArea(c Cell) bool {
	for _, a := range p.Areas {
		if a.Contains(c) {
			return true
		}
	}
	return false
}

// clutterField returns a predicate telling whether a cell is an obstacle.
func clutterField(cfg ClutterConfig) func(Cell) bool {
	noise := opensimplex.NewNormalized(cfg.Seed)
	octaves := cfg.Octaves
	if octaves < 1 {
		octaves = 1
	}
	threshold := 1 - cfg.Density
	return func(c Cell) bool {
		v := octaveNoise(noise, float64(c.Col), float64(c.Row), octaves, cfg.Frequency, 0.5)
		return v > threshold
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
