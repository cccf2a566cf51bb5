// Package dof numbers the unknowns of a continuous Q_k discretization on the
// shell mesh and splits them across ranks. Nodes live on a tensor lattice
// that is periodic around the ring; nodes on shared cell faces carry a single
// global index. After distribution every rank owns one contiguous index
// range, the union of all ranges covers every DOF, and no index is owned
// twice.
package dof

import (
	"fmt"
	"math"
	"sort"

	"github.com/pdelab/cdr2d/mesh"
)

type Handler struct {
	FEOrder int
	Msh     *mesh.Mesh
	Layout  *mesh.PartitionLayout

	Ntk int // lattice columns (periodic)
	Nrk int // lattice rows

	renum  []int    // raw lattice id -> global index
	raw    []int    // global index -> raw lattice id
	owned  [][2]int // per rank: [begin, end) of owned global indices
	nDofs  int
	dofsPC int // DOFs per cell, (k+1)^2
}

// Distribute assigns global DOF indices so that each rank's owned set is
// contiguous. A lattice node shared by cells of several ranks is owned by the
// lowest of those ranks.
func Distribute(m *mesh.Mesh, pl *mesh.PartitionLayout, feOrder int) (*Handler, error) {
	if feOrder < 1 {
		return nil, fmt.Errorf("finite element order must be positive, got %d", feOrder)
	}
	k := feOrder
	h := &Handler{
		FEOrder: feOrder,
		Msh:     m,
		Layout:  pl,
		Ntk:     m.Ntheta * k,
		Nrk:     m.Nr*k + 1,
		dofsPC:  (k + 1) * (k + 1),
	}
	h.nDofs = h.Ntk * h.Nrk

	owner := make([]int, h.nDofs)
	for raw := 0; raw < h.nDofs; raw++ {
		it, ir := raw%h.Ntk, raw/h.Ntk
		owner[raw] = h.nodeOwner(it, ir)
	}

	// renumber by (owner, raw) so owned blocks are contiguous and ascending
	perm := make([]int, h.nDofs)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		if owner[perm[a]] != owner[perm[b]] {
			return owner[perm[a]] < owner[perm[b]]
		}
		return perm[a] < perm[b]
	})
	h.renum = make([]int, h.nDofs)
	h.raw = make([]int, h.nDofs)
	for g, raw := range perm {
		h.renum[raw] = g
		h.raw[g] = raw
	}
	h.owned = make([][2]int, pl.NP)
	for rank := range h.owned {
		h.owned[rank] = [2]int{h.nDofs, h.nDofs}
	}
	for g, raw := range perm {
		r := owner[raw]
		if g < h.owned[r][0] {
			h.owned[r][0] = g
		}
		h.owned[r][1] = g + 1
	}
	return h, nil
}

// nodeOwner is the lowest rank among the cells whose closure contains the
// lattice node.
func (h *Handler) nodeOwner(it, ir int) int {
	k := h.FEOrder
	m := h.Msh
	pl := h.Layout

	var cols [2]int
	ncols := 1
	cols[0] = it / k
	if it%k == 0 {
		cols[0] = (it/k - 1 + m.Ntheta) % m.Ntheta
		cols[1] = it / k
		ncols = 2
	}
	var rows [2]int
	nrows := 0
	rc := ir / k
	if ir%k == 0 {
		if rc-1 >= 0 {
			rows[nrows] = rc - 1
			nrows++
		}
		if rc <= m.Nr-1 {
			rows[nrows] = rc
			nrows++
		}
	} else {
		rows[0] = rc
		nrows = 1
	}

	owner := pl.NP
	for ci := 0; ci < ncols; ci++ {
		for ri := 0; ri < nrows; ri++ {
			r := pl.OwnerOf(m.CellID(cols[ci], rows[ri]))
			if r < owner {
				owner = r
			}
		}
	}
	return owner
}

func (h *Handler) NDofs() int       { return h.nDofs }
func (h *Handler) DofsPerCell() int { return h.dofsPC }

// OwnedRange returns the half-open global index range owned by a rank.
func (h *Handler) OwnedRange(rank int) (begin, end int) {
	return h.owned[rank][0], h.owned[rank][1]
}

func (h *Handler) LocallyOwned(rank int) IndexSet {
	b, e := h.OwnedRange(rank)
	return NewIndexRange(b, e)
}

// LocallyRelevant is the owned set united with every DOF touched by a locally
// owned cell.
func (h *Handler) LocallyRelevant(rank int) IndexSet {
	var idx []int
	b, e := h.OwnedRange(rank)
	for i := b; i < e; i++ {
		idx = append(idx, i)
	}
	for _, cid := range h.Layout.OwnedCells[rank] {
		idx = append(idx, h.CellDofs(cid)...)
	}
	return NewIndexSet(idx)
}

// DofOwner returns the rank owning a global index.
func (h *Handler) DofOwner(g int) int {
	for rank, r := range h.owned {
		if g >= r[0] && g < r[1] {
			return rank
		}
	}
	panic(fmt.Sprintf("global dof %d not inside any owned range", g))
}

// CellDofs lists the global indices of a cell's nodes in lexicographic local
// order: row-major over the (k+1)x(k+1) lattice, radial index major.
func (h *Handler) CellDofs(cid int) []int {
	k := h.FEOrder
	ct, cr := h.Msh.CellColRow(cid)
	out := make([]int, 0, h.dofsPC)
	for b := 0; b <= k; b++ {
		ir := cr*k + b
		for a := 0; a <= k; a++ {
			it := (ct*k + a) % h.Ntk
			out = append(out, h.renum[ir*h.Ntk+it])
		}
	}
	return out
}

// IsBoundaryDof reports whether a global index lies on the inner or outer
// circle of the shell.
func (h *Handler) IsBoundaryDof(g int) bool {
	ir := h.raw[g] / h.Ntk
	return ir == 0 || ir == h.Nrk-1
}

// SupportPoint returns the physical coordinates of a DOF's lattice node.
// Nodes are equally spaced in manifold parameters inside each cell, so the
// point lies exactly on the curved geometry.
func (h *Handler) SupportPoint(g int) (x, y float64) {
	k := h.FEOrder
	m := h.Msh
	raw := h.raw[g]
	it, ir := raw%h.Ntk, raw/h.Ntk

	tc, a := it/k, it%k
	t0 := m.Theta[tc]
	t1 := m.Theta[(tc+1)%m.Ntheta]
	if t1 <= t0 {
		t1 += 2 * math.Pi
	}
	theta := t0 + float64(a)/float64(k)*(t1-t0)

	rc, b := ir/k, ir%k
	if ir == h.Nrk-1 {
		rc, b = m.Nr-1, k
	}
	r := m.R[rc] + float64(b)/float64(k)*(m.R[rc+1]-m.R[rc])
	return r * math.Cos(theta), r * math.Sin(theta)
}

// VertexDof maps a mesh vertex id to the global DOF sitting on it.
func (h *Handler) VertexDof(vid int) int {
	it := vid % h.Msh.Ntheta
	ir := vid / h.Msh.Ntheta
	return h.renum[(ir*h.FEOrder)*h.Ntk+it*h.FEOrder]
}
