package assemble

import (
	"github.com/pdelab/cdr2d/comm"
	"github.com/pdelab/cdr2d/constraint"
	"github.com/pdelab/cdr2d/dof"
)

// Pattern is the coupling structure of the owned rows, including entries that
// other ranks will contribute to them. Seeding the matrix from the pattern
// before assembly makes the compressed structure independent of contribution
// order, so repeated assemblies produce identical storage.
type Pattern struct {
	begin, end int
	rows       []map[int]struct{}
}

func (p *Pattern) add(row, col int) {
	if row < p.begin || row >= p.end {
		return
	}
	r := row - p.begin
	if p.rows[r] == nil {
		p.rows[r] = make(map[int]struct{})
	}
	p.rows[r][col] = struct{}{}
}

// NNZ counts the stored couplings.
func (p *Pattern) NNZ() int {
	n := 0
	for _, r := range p.rows {
		n += len(r)
	}
	return n
}

// Each visits every coupling, global indices, unordered.
func (p *Pattern) Each(fn func(row, col int)) {
	for r, cols := range p.rows {
		for c := range cols {
			fn(r+p.begin, c)
		}
	}
}

// Has reports whether a coupling is present. Row must be owned.
func (p *Pattern) Has(row, col int) bool {
	r := row - p.begin
	if r < 0 || r >= len(p.rows) || p.rows[r] == nil {
		return false
	}
	_, ok := p.rows[r][col]
	return ok
}

// BuildSparsity computes the coupling pattern of the owned rows. Constrained
// DOFs couple through their masters and keep only their diagonal. Couplings
// whose row is owned elsewhere are exchanged so each rank ends up with the
// complete pattern of its rows. Collective.
func BuildSparsity(h *dof.Handler, cst *constraint.Constraints, cm *comm.Comm) *Pattern {
	begin, end := h.OwnedRange(cm.Rank())
	p := &Pattern{begin: begin, end: end, rows: make([]map[int]struct{}, end-begin)}

	resolve := func(d int) []constraint.Entry {
		if entries, _, ok := cst.Line(d); ok {
			return entries
		}
		return []constraint.Entry{{Master: d, Coeff: 1}}
	}
	for _, cid := range h.Layout.OwnedCells[cm.Rank()] {
		dofs := h.CellDofs(cid)
		for _, di := range dofs {
			for _, dj := range dofs {
				for _, ei := range resolve(di) {
					for _, ej := range resolve(dj) {
						row, col := ei.Master, ej.Master
						if row >= begin && row < end {
							p.add(row, col)
						} else {
							cm.PostEntry(h.DofOwner(row), comm.Entry{Row: row, Col: col})
						}
					}
				}
			}
		}
	}
	// constrained diagonals survive condensation
	for _, d := range cst.ConstrainedDofs() {
		if d >= begin && d < end {
			p.add(d, d)
		}
	}
	for _, e := range cm.ExchangeEntries() {
		p.add(e.Row, e.Col)
	}
	return p
}
