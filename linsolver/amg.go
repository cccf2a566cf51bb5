package linsolver

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// AMGPreconditioner is a per-rank smoothed-aggregation two-level V-cycle on
// the owned diagonal block of the operator. Couplings to rows or columns
// owned by other ranks are dropped, so Apply involves no communication and
// the preconditioner slots into the right-preconditioned GMRES without
// changing its collective pattern. Small blocks skip the hierarchy and are
// factored directly.
type AMGPreconditioner struct {
	Theta  float64 // strength-of-connection threshold
	Omega  float64 // damped-Jacobi weight
	Sweeps int     // pre- and post-smoothing sweeps

	n      int
	indptr []int
	ind    []int
	data   []float64
	diag   []float64

	// tentative prolongator smoothed by one damped-Jacobi step, stored by row
	pptr []int
	pind []int
	pval []float64
	nagg int

	lu     *mat.LU // coarse (or whole-block) factorization
	direct bool

	scratch struct {
		az, res []float64
		rc, ec  *mat.VecDense
	}
}

// directCap is the block size below which the whole block is LU-factored
// instead of building a hierarchy.
const directCap = 64

func NewAMGPreconditioner() *AMGPreconditioner {
	return &AMGPreconditioner{Theta: 0.25, Omega: 0.8, Sweeps: 1}
}

// Setup extracts the owned diagonal block, aggregates it, and factors the
// Galerkin coarse operator. Called once per run; the operator must already be
// compressed.
func (p *AMGPreconditioner) Setup(op Operator) error {
	begin, end := op.OwnedRange()
	p.n = end - begin
	if p.n == 0 {
		return nil
	}
	p.extractBlock(op, begin, end)
	for i, d := range p.diag {
		if d == 0 {
			return fmt.Errorf("zero diagonal at owned row %d, cannot smooth", begin+i)
		}
	}

	if p.n <= directCap {
		p.direct = true
		p.lu = &mat.LU{}
		p.lu.Factorize(p.denseBlock())
		return nil
	}

	agg := p.aggregate()
	p.buildProlongator(agg)
	if p.nagg == 0 || p.nagg >= p.n {
		// coarsening stalled; fall back to plain damped Jacobi
		p.lu = nil
		return nil
	}
	p.lu = &mat.LU{}
	p.lu.Factorize(p.galerkin())

	p.scratch.az = make([]float64, p.n)
	p.scratch.res = make([]float64, p.n)
	p.scratch.rc = mat.NewVecDense(p.nagg, nil)
	p.scratch.ec = mat.NewVecDense(p.nagg, nil)
	return nil
}

// Apply runs one V-cycle: pre-smooth, coarse-grid correction, post-smooth.
func (p *AMGPreconditioner) Apply(z, r []float64) {
	if p.n == 0 {
		return
	}
	if p.direct {
		var zv mat.VecDense
		if err := p.lu.SolveVecTo(&zv, false, mat.NewVecDense(p.n, r)); err == nil {
			copy(z, zv.RawVector().Data)
			return
		}
		// singular block; degrade to Jacobi
	}

	for i := range z {
		z[i] = 0
	}
	p.smooth(z, r)
	if p.lu != nil && !p.direct {
		p.residual(p.scratch.res, z, r)
		p.restrictTo(p.scratch.rc, p.scratch.res)
		if err := p.lu.SolveVecTo(p.scratch.ec, false, p.scratch.rc); err == nil {
			p.prolongAdd(z, p.scratch.ec)
		}
	}
	p.smooth(z, r)
}

// extractBlock copies the entries with both indices inside [begin, end) into
// local CSR arrays.
func (p *AMGPreconditioner) extractBlock(op Operator, begin, end int) {
	type ent struct {
		col int
		v   float64
	}
	byRow := make([][]ent, p.n)
	op.EachOwnedNonZero(func(row, col int, v float64) {
		if col < begin || col >= end {
			return
		}
		i := row - begin
		byRow[i] = append(byRow[i], ent{col: col - begin, v: v})
	})
	p.indptr = make([]int, p.n+1)
	p.diag = make([]float64, p.n)
	nnz := 0
	for _, r := range byRow {
		nnz += len(r)
	}
	p.ind = make([]int, 0, nnz)
	p.data = make([]float64, 0, nnz)
	for i, r := range byRow {
		sort.Slice(r, func(a, b int) bool { return r[a].col < r[b].col })
		for _, e := range r {
			p.ind = append(p.ind, e.col)
			p.data = append(p.data, e.v)
			if e.col == i {
				p.diag[i] = e.v
			}
		}
		p.indptr[i+1] = len(p.ind)
	}
}

// aggregate groups strongly coupled nodes: a first pass seeds aggregates from
// nodes whose strong neighborhood is untouched, a second pass attaches the
// leftovers to an adjacent aggregate.
func (p *AMGPreconditioner) aggregate() []int {
	agg := make([]int, p.n)
	for i := range agg {
		agg[i] = -1
	}
	strong := func(i, j int, v float64) bool {
		return i != j && math.Abs(v) >= p.Theta*math.Sqrt(math.Abs(p.diag[i]*p.diag[j]))
	}
	next := 0
	for i := 0; i < p.n; i++ {
		if agg[i] >= 0 {
			continue
		}
		free := true
		for k := p.indptr[i]; k < p.indptr[i+1]; k++ {
			if strong(i, p.ind[k], p.data[k]) && agg[p.ind[k]] >= 0 {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		agg[i] = next
		for k := p.indptr[i]; k < p.indptr[i+1]; k++ {
			if strong(i, p.ind[k], p.data[k]) {
				agg[p.ind[k]] = next
			}
		}
		next++
	}
	for i := 0; i < p.n; i++ {
		if agg[i] >= 0 {
			continue
		}
		for k := p.indptr[i]; k < p.indptr[i+1]; k++ {
			if j := p.ind[k]; strong(i, j, p.data[k]) && agg[j] >= 0 {
				agg[i] = agg[j]
				break
			}
		}
		if agg[i] < 0 {
			agg[i] = next
			next++
		}
	}
	p.nagg = next
	return agg
}

// buildProlongator smooths the piecewise-constant tentative prolongator with
// one damped-Jacobi step: P = (I - omega D^-1 A) P_tent.
func (p *AMGPreconditioner) buildProlongator(agg []int) {
	p.pptr = make([]int, p.n+1)
	p.pind = p.pind[:0]
	p.pval = p.pval[:0]
	row := make(map[int]float64, 8)
	for i := 0; i < p.n; i++ {
		for a := range row {
			delete(row, a)
		}
		row[agg[i]] = 1
		for k := p.indptr[i]; k < p.indptr[i+1]; k++ {
			row[agg[p.ind[k]]] -= p.Omega * p.data[k] / p.diag[i]
		}
		cols := make([]int, 0, len(row))
		for a := range row {
			cols = append(cols, a)
		}
		sort.Ints(cols)
		for _, a := range cols {
			p.pind = append(p.pind, a)
			p.pval = append(p.pval, row[a])
		}
		p.pptr[i+1] = len(p.pind)
	}
}

// galerkin forms the dense coarse operator P^T A P.
func (p *AMGPreconditioner) galerkin() *mat.Dense {
	ac := mat.NewDense(p.nagg, p.nagg, nil)
	for i := 0; i < p.n; i++ {
		for k := p.indptr[i]; k < p.indptr[i+1]; k++ {
			j, v := p.ind[k], p.data[k]
			for ki := p.pptr[i]; ki < p.pptr[i+1]; ki++ {
				for kj := p.pptr[j]; kj < p.pptr[j+1]; kj++ {
					ai, aj := p.pind[ki], p.pind[kj]
					ac.Set(ai, aj, ac.At(ai, aj)+p.pval[ki]*v*p.pval[kj])
				}
			}
		}
	}
	return ac
}

func (p *AMGPreconditioner) denseBlock() *mat.Dense {
	d := mat.NewDense(p.n, p.n, nil)
	for i := 0; i < p.n; i++ {
		for k := p.indptr[i]; k < p.indptr[i+1]; k++ {
			d.Set(i, p.ind[k], p.data[k])
		}
	}
	return d
}

// smooth performs damped-Jacobi sweeps z += omega D^-1 (r - A z).
func (p *AMGPreconditioner) smooth(z, r []float64) {
	for s := 0; s < p.Sweeps; s++ {
		p.blockMulVec(p.scratchAz(), z)
		az := p.scratchAz()
		for i := 0; i < p.n; i++ {
			z[i] += p.Omega * (r[i] - az[i]) / p.diag[i]
		}
	}
}

func (p *AMGPreconditioner) scratchAz() []float64 {
	if p.scratch.az == nil {
		p.scratch.az = make([]float64, p.n)
	}
	return p.scratch.az
}

func (p *AMGPreconditioner) blockMulVec(y, x []float64) {
	for i := 0; i < p.n; i++ {
		var s float64
		for k := p.indptr[i]; k < p.indptr[i+1]; k++ {
			s += p.data[k] * x[p.ind[k]]
		}
		y[i] = s
	}
}

func (p *AMGPreconditioner) residual(res, z, r []float64) {
	p.blockMulVec(res, z)
	for i := range res {
		res[i] = r[i] - res[i]
	}
}

func (p *AMGPreconditioner) restrictTo(rc *mat.VecDense, res []float64) {
	for a := 0; a < p.nagg; a++ {
		rc.SetVec(a, 0)
	}
	for i := 0; i < p.n; i++ {
		for k := p.pptr[i]; k < p.pptr[i+1]; k++ {
			a := p.pind[k]
			rc.SetVec(a, rc.AtVec(a)+p.pval[k]*res[i])
		}
	}
}

func (p *AMGPreconditioner) prolongAdd(z []float64, ec *mat.VecDense) {
	for i := 0; i < p.n; i++ {
		for k := p.pptr[i]; k < p.pptr[i+1]; k++ {
			z[i] += p.pval[k] * ec.AtVec(p.pind[k])
		}
	}
}
