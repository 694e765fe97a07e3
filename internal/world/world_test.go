package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-market/internal/markov"
)

func TestDefaultFloorPlanValidates(t *testing.T) {
	p := DefaultFloorPlan()
	require.NoError(t, p.Validate())
	assert.Equal(t, 12, p.Grid.Rows())
	assert.Equal(t, 19, p.Grid.Cols())
	assert.True(t, p.Grid.Walkable(p.Entry))

	for _, z := range p.Zones() {
		a, ok := p.Area(z)
		require.True(t, ok)
		for lane := 0; lane < a.LaneCount(); lane++ {
			for _, c := range a.Lane(lane).Cells() {
				assert.True(t, p.Grid.Walkable(c), "zone %q cell %v", z, c)
			}
		}
	}
}

func TestDefaultCheckoutLanes(t *testing.T) {
	a, ok := DefaultFloorPlan().Area(markov.ZoneCheckout)
	require.True(t, ok)
	assert.Equal(t, 3, a.LaneCount())
	assert.Equal(t, Rect{MinRow: 8, MaxRow: 9, MinCol: 11, MaxCol: 12}, a.Lane(2))
	assert.True(t, a.Contains(Cell{Row: 9, Col: 8}))
	assert.False(t, a.Contains(Cell{Row: 9, Col: 9}))
}

func TestParseLayout(t *testing.T) {
	p, err := ParseLayout("\n#.#\n...\n", Legend{Entry: Cell{Row: 1, Col: 0}})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Grid.Rows())
	assert.Equal(t, 3, p.Grid.Cols())
	assert.False(t, p.Grid.Walkable(Cell{Row: 0, Col: 0}))
	assert.True(t, p.Grid.Walkable(Cell{Row: 0, Col: 1}))
	assert.Equal(t, 4, p.Grid.WalkableCount())
	assert.Equal(t, "#.#\n...", p.Grid.String())
}

func TestParseLayoutRejectsRaggedRows(t *testing.T) {
	_, err := ParseLayout("...\n..", Legend{})
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = ParseLayout("...\n\n...", Legend{})
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestValidate(t *testing.T) {
	layout := `
.....
.###.
.#.#.
.###.
.....`
	tests := []struct {
		name   string
		legend Legend
		ok     bool
	}{
		{
			name:   "reachable_zone",
			legend: Legend{Entry: Cell{Row: 0, Col: 0}, Areas: map[markov.Zone]Area{"a": {Rect: Rect{MinRow: 4, MaxRow: 4, MinCol: 4, MaxCol: 4}}}},
			ok:     true,
		},
		{
			name:   "entry_on_obstacle",
			legend: Legend{Entry: Cell{Row: 1, Col: 1}},
		},
		{
			name:   "entry_off_grid",
			legend: Legend{Entry: Cell{Row: -1, Col: 0}},
		},
		{
			name:   "enclosed_zone",
			legend: Legend{Entry: Cell{Row: 0, Col: 0}, Areas: map[markov.Zone]Area{"a": {Rect: Rect{MinRow: 2, MaxRow: 2, MinCol: 2, MaxCol: 2}}}},
		},
		{
			name:   "zone_off_grid",
			legend: Legend{Entry: Cell{Row: 0, Col: 0}, Areas: map[markov.Zone]Area{"a": {Rect: Rect{MinRow: 4, MaxRow: 5, MinCol: 0, MaxCol: 0}}}},
		},
		{
			name:   "lanes_without_stride",
			legend: Legend{Entry: Cell{Row: 0, Col: 0}, Areas: map[markov.Zone]Area{"a": {Rect: Rect{MinRow: 0, MaxRow: 0, MinCol: 0, MaxCol: 0}, Lanes: 2}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseLayout(layout, tt.legend)
			require.NoError(t, err)
			err = p.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPlan)
			}
		})
	}
}

func TestManhattan(t *testing.T) {
	assert.Equal(t, 6, Manhattan(Cell{Row: 1, Col: 0}, Cell{Row: 2, Col: 5}))
	assert.Equal(t, 0, Manhattan(Cell{Row: 3, Col: 3}, Cell{Row: 3, Col: 3}))
	assert.Equal(t, 4, Manhattan(Cell{Row: 0, Col: 2}, Cell{Row: 2, Col: 0}))
}

func TestMoveSet(t *testing.T) {
	m, err := MoveSet("8")
	require.NoError(t, err)
	assert.Len(t, m, 8)
	m, err = MoveSet("")
	require.NoError(t, err)
	assert.Equal(t, FourNeighbour, m)
	_, err = MoveSet("hex")
	assert.Error(t, err)
}

func TestDirectedGraphEdges(t *testing.T) {
	g := OpenGrid(2, 2).WithBlocked(Cell{Row: 1, Col: 1})
	dg := g.DirectedGraph(FourNeighbour)
	assert.Equal(t, 3, dg.Nodes().Len())
	assert.True(t, dg.HasEdgeFromTo(0, 1))
	assert.True(t, dg.HasEdgeFromTo(2, 0))
	assert.Nil(t, dg.Node(3))
	assert.False(t, dg.HasEdgeFromTo(1, 2))

	diag := g.DirectedGraph(EightNeighbour)
	assert.True(t, diag.HasEdgeFromTo(1, 2))
}

func TestGenerateClutterDeterministic(t *testing.T) {
	cfg := DefaultClutterConfig()
	a := GenerateClutter(cfg)
	b := GenerateClutter(cfg)
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, cfg.Rows, a.Rows())
	assert.Equal(t, cfg.Cols, a.Cols())

	open := a.WalkableCount()
	assert.Greater(t, open, 0)
	assert.Less(t, open, a.Len())
}

func TestGenerateFloorPlanKeepsZonesClear(t *testing.T) {
	base := DefaultFloorPlan()
	cfg := DefaultClutterConfig()
	cfg.Density = 0.25
	p, err := GenerateFloorPlan(base, cfg)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	assert.True(t, p.Grid.Walkable(p.Entry))
	for _, z := range p.Zones() {
		a, _ := p.Area(z)
		for lane := 0; lane < a.LaneCount(); lane++ {
			for _, c := range a.Lane(lane).Cells() {
				assert.True(t, p.Grid.Walkable(c))
			}
		}
	}
	assert.LessOrEqual(t, p.Grid.WalkableCount(), base.Grid.WalkableCount())
}

func TestRender(t *testing.T) {
	p, err := ParseLayout("#..\n...", Legend{})
	require.NoError(t, err)
	out := p.Render(map[Cell]int{{Row: 0, Col: 1}: 2, {Row: 1, Col: 2}: 12})
	assert.Equal(t, "#2.\n..*", out)
}
