// Package mesh builds the partitioned annular shell mesh. The coarse mesh is
// a ring of 8 quadrilaterals between the inner and outer radius; uniform
// refinement splits every cell 1:4, with new vertices placed by the polar
// manifold (mid-arc, mid-radius) so the curvature is preserved through every
// refinement level. The manifold is attached to all cells, not just the
// boundary layer, matching the reference geometry setup.
package mesh

import (
	"fmt"
	"math"
)

const coarseCellsAround = 8

// Cell is one quadrilateral of the shell. Vertices are counter-clockwise
// starting at the (low-theta, low-r) corner. Faces are numbered bottom(0),
// right(1), top(2), left(3) in ring coordinates; radial faces at the shell
// boundary have neighbor -1.
type Cell struct {
	ID        int
	V         [4]int
	Neighbors [4]int
	AtInner   bool
	AtOuter   bool
}

// Mesh is the refined shell. It is built once and immutable afterwards.
// Theta and R hold the manifold parameters of the vertex lattice; vertex
// (it, ir) has id ir*Ntheta+it and position (R[ir]*cos(Theta[it]),
// R[ir]*sin(Theta[it])).
type Mesh struct {
	InnerRadius     float64
	OuterRadius     float64
	RefinementLevel int

	Ntheta int // cells around the ring
	Nr     int // cells across the ring
	Theta  []float64
	R      []float64
	Verts  [][2]float64
	Cells  []Cell
}

// NewShellMesh builds the coarse ring and applies the requested number of
// uniform refinement rounds.
func NewShellMesh(innerRadius, outerRadius float64, refinementLevel int) (*Mesh, error) {
	if !(innerRadius > 0 && outerRadius > innerRadius) {
		return nil, fmt.Errorf("shell radii must satisfy 0 < inner < outer, got inner=%g outer=%g",
			innerRadius, outerRadius)
	}
	if refinementLevel < 0 {
		return nil, fmt.Errorf("refinement level must be non-negative, got %d", refinementLevel)
	}
	m := &Mesh{
		InnerRadius:     innerRadius,
		OuterRadius:     outerRadius,
		RefinementLevel: refinementLevel,
		Ntheta:          coarseCellsAround,
		Nr:              1,
	}
	m.Theta = make([]float64, m.Ntheta)
	for it := 0; it < m.Ntheta; it++ {
		m.Theta[it] = 2 * math.Pi * float64(it) / float64(m.Ntheta)
	}
	m.R = []float64{innerRadius, outerRadius}
	for l := 0; l < refinementLevel; l++ {
		m.refineGlobal()
	}
	m.buildVerts()
	m.buildCells()
	return m, nil
}

// refineGlobal splits every cell into four. The polar manifold places each
// new vertex at the average of its parents' manifold parameters, which is the
// arc midpoint for theta and the radial midpoint for r.
func (m *Mesh) refineGlobal() {
	theta := make([]float64, 2*m.Ntheta)
	for it := 0; it < m.Ntheta; it++ {
		next := m.Theta[(it+1)%m.Ntheta]
		if next <= m.Theta[it] { // wrap-around arc
			next += 2 * math.Pi
		}
		theta[2*it] = m.Theta[it]
		theta[2*it+1] = 0.5 * (m.Theta[it] + next)
	}
	r := make([]float64, 2*m.Nr+1)
	for ir := 0; ir < m.Nr; ir++ {
		r[2*ir] = m.R[ir]
		r[2*ir+1] = 0.5 * (m.R[ir] + m.R[ir+1])
	}
	r[2*m.Nr] = m.R[m.Nr]
	m.Theta = theta
	m.R = r
	m.Ntheta *= 2
	m.Nr *= 2
}

func (m *Mesh) buildVerts() {
	m.Verts = make([][2]float64, m.Ntheta*(m.Nr+1))
	for ir := 0; ir <= m.Nr; ir++ {
		for it := 0; it < m.Ntheta; it++ {
			m.Verts[m.VertID(it, ir)] = [2]float64{
				m.R[ir] * math.Cos(m.Theta[it]),
				m.R[ir] * math.Sin(m.Theta[it]),
			}
		}
	}
}

func (m *Mesh) buildCells() {
	m.Cells = make([]Cell, m.Ntheta*m.Nr)
	for ir := 0; ir < m.Nr; ir++ {
		for it := 0; it < m.Ntheta; it++ {
			id := m.CellID(it, ir)
			c := Cell{
				ID: id,
				V: [4]int{
					m.VertID(it, ir),
					m.VertID((it+1)%m.Ntheta, ir),
					m.VertID((it+1)%m.Ntheta, ir+1),
					m.VertID(it, ir+1),
				},
				AtInner: ir == 0,
				AtOuter: ir == m.Nr-1,
			}
			// bottom, right, top, left
			c.Neighbors[0] = -1
			if ir > 0 {
				c.Neighbors[0] = m.CellID(it, ir-1)
			}
			c.Neighbors[1] = m.CellID((it+1)%m.Ntheta, ir)
			c.Neighbors[2] = -1
			if ir < m.Nr-1 {
				c.Neighbors[2] = m.CellID(it, ir+1)
			}
			c.Neighbors[3] = m.CellID((it+m.Ntheta-1)%m.Ntheta, ir)
			m.Cells[id] = c
		}
	}
}

func (m *Mesh) NumCells() int { return len(m.Cells) }

func (m *Mesh) VertID(it, ir int) int { return ir*m.Ntheta + it }

func (m *Mesh) CellID(it, ir int) int { return ir*m.Ntheta + it }

// CellColRow inverts CellID.
func (m *Mesh) CellColRow(id int) (it, ir int) {
	return id % m.Ntheta, id / m.Ntheta
}
