package assemble

import (
	"fmt"

	"github.com/pdelab/cdr2d/comm"
	"github.com/pdelab/cdr2d/constraint"
	"github.com/pdelab/cdr2d/dof"
	"github.com/pdelab/cdr2d/expr"
	"github.com/pdelab/cdr2d/linsolver"
)

// Coefficients carries the PDE data of a run. Diffusion and reaction are
// constants; convection and forcing are evaluated pointwise through the
// injected expression capability.
type Coefficients struct {
	Diffusion  float64
	Reaction   float64
	Convection [2]expr.Evaluator // (x, y) -> velocity components
	Forcing    expr.Evaluator    // (x, y, t) -> source
}

// CreateSystemMatrix assembles the backward-Euler operator
//
//	(1/dt) M + diffusion K + C(w) + reaction M
//
// over the owned cells and returns it compressed. The operator contains no
// time-dependent data, so it is assembled once per run and reused for every
// step. Constrained rows and columns are condensed away; each constrained
// diagonal is set to one. Collective.
func CreateSystemMatrix(h *dof.Handler, e *Element, cst *constraint.Constraints,
	pat *Pattern, coef Coefficients, dt float64, cm *comm.Comm) (*linsolver.CSRMatrix, error) {

	begin, end := h.OwnedRange(cm.Rank())
	a := linsolver.NewCSRMatrix(h.NDofs(), begin, end, h.DofOwner)
	// seed the full pattern so the compressed structure does not depend on
	// which couplings this assembly happens to touch
	pat.Each(func(row, col int) { a.Add(row, col, 0) })

	nd := e.NDofs()
	ke := make([][]float64, nd)
	for i := range ke {
		ke[i] = make([]float64, nd)
	}
	var cv CellValues
	vars := map[string]float64{"x": 0, "y": 0}
	var evalErr error
cells:
	for _, cid := range h.Layout.OwnedCells[cm.Rank()] {
		e.Reinit(h.Msh, cid, &cv)
		for i := range ke {
			for j := range ke[i] {
				ke[i][j] = 0
			}
		}
		for q := 0; q < e.NQPoints(); q++ {
			vars["x"], vars["y"] = cv.X[q], cv.Y[q]
			wx, err := coef.Convection[0].Eval(vars)
			if err != nil {
				evalErr = fmt.Errorf("convection x-component at cell %d: %w", cid, err)
				break cells
			}
			wy, err := coef.Convection[1].Eval(vars)
			if err != nil {
				evalErr = fmt.Errorf("convection y-component at cell %d: %w", cid, err)
				break cells
			}
			mass := 1/dt + coef.Reaction
			for i := 0; i < nd; i++ {
				gi := cv.Grad[q][i]
				vi := e.Val[q][i]
				for j := 0; j < nd; j++ {
					gj := cv.Grad[q][j]
					vj := e.Val[q][j]
					ke[i][j] += cv.JxW[q] * (mass*vi*vj +
						coef.Diffusion*(gi[0]*gj[0]+gi[1]*gj[1]) +
						vi*(wx*gj[0]+wy*gj[1]))
				}
			}
		}
		distributeMatrix(a, ke, h.CellDofs(cid), cst)
	}
	for _, d := range cst.ConstrainedDofs() {
		if d >= begin && d < end {
			a.Add(d, d, 1)
		}
	}
	// a failed evaluation on any rank must fail everywhere before the
	// compress collective, or the survivors would block in it
	if err := cm.SyncError(evalErr); err != nil {
		return nil, err
	}
	a.Compress(cm)
	return a, nil
}

// distributeMatrix scatters an element matrix into the global one with
// constraint condensation: each constrained index is replaced by its weighted
// masters, and purely constrained couplings vanish.
func distributeMatrix(a *linsolver.CSRMatrix, ke [][]float64, dofs []int, cst *constraint.Constraints) {
	for i, di := range dofs {
		rowEntries, _, rowConstrained := cst.Line(di)
		if !rowConstrained {
			rowEntries = selfEntry(di)
		}
		for j, dj := range dofs {
			colEntries, _, colConstrained := cst.Line(dj)
			if !colConstrained {
				colEntries = selfEntry(dj)
			}
			v := ke[i][j]
			if v == 0 {
				continue
			}
			for _, er := range rowEntries {
				for _, ec := range colEntries {
					a.Add(er.Master, ec.Master, er.Coeff*ec.Coeff*v)
				}
			}
		}
	}
}

func selfEntry(d int) []constraint.Entry {
	return []constraint.Entry{{Master: d, Coeff: 1}}
}

// CreateSystemRHS assembles the step right-hand side
//
//	(1/dt) M u_prev + F(t)
//
// at time t from the ghosted previous solution. Contributions are accumulated
// into a full-length local vector and joined with a deterministic reduce-add;
// the returned slice is the owned segment, with constrained entries set to
// their inhomogeneity. Collective.
func CreateSystemRHS(h *dof.Handler, e *Element, cst *constraint.Constraints,
	coef Coefficients, dt, t float64, uPrev []float64, cm *comm.Comm) ([]float64, error) {

	n := h.NDofs()
	local := make([]float64, n)
	fe := make([]float64, e.NDofs())
	var cv CellValues
	vars := map[string]float64{"x": 0, "y": 0, "t": t}
	var evalErr error
cells:
	for _, cid := range h.Layout.OwnedCells[cm.Rank()] {
		dofs := h.CellDofs(cid)
		e.Reinit(h.Msh, cid, &cv)
		for i := range fe {
			fe[i] = 0
		}
		for q := 0; q < e.NQPoints(); q++ {
			// previous solution interpolated at the quadrature point; with the
			// shared quadrature this equals the mass-matrix product exactly
			var uq float64
			for j, dj := range dofs {
				uq += e.Val[q][j] * uPrev[dj]
			}
			vars["x"], vars["y"] = cv.X[q], cv.Y[q]
			fq, err := coef.Forcing.Eval(vars)
			if err != nil {
				evalErr = fmt.Errorf("forcing at cell %d, t=%g: %w", cid, t, err)
				break cells
			}
			s := cv.JxW[q] * (uq/dt + fq)
			for i := range fe {
				fe[i] += s * e.Val[q][i]
			}
		}
		for i, di := range dofs {
			entries, _, constrained := cst.Line(di)
			if !constrained {
				local[di] += fe[i]
				continue
			}
			for _, en := range entries {
				local[en.Master] += en.Coeff * fe[i]
			}
		}
	}

	if err := cm.SyncError(evalErr); err != nil {
		return nil, err
	}
	global := make([]float64, n)
	cm.AllReduceSum(global, local)

	begin, end := h.OwnedRange(cm.Rank())
	b := make([]float64, end-begin)
	copy(b, global[begin:end])
	for _, d := range cst.ConstrainedDofs() {
		if d >= begin && d < end {
			_, inhom, _ := cst.Line(d)
			b[d-begin] = inhom
		}
	}
	return b, nil
}
