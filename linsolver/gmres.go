package linsolver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/pdelab/cdr2d/comm"
)

// GMRES is a restarted, right-preconditioned GMRES solver over the
// row-partitioned operator. Every rank runs the identical iteration; the only
// cross-rank traffic is the ghost refresh inside the matvec and the reduction
// inside each dot product, so iteration counts and residuals agree bitwise on
// all ranks.
type GMRES struct {
	Restart int     // Krylov subspace size between restarts
	RelTol  float64 // convergence on ||b - A x|| <= RelTol * ||b||
}

// NewGMRES returns the solver with the default restart length and tolerance.
func NewGMRES() *GMRES {
	return &GMRES{Restart: 30, RelTol: 1e-6}
}

// Solve runs preconditioned GMRES on the owned segments b and x. x holds the
// initial guess on entry and the solution on return. The iteration cap is the
// global system size; exceeding it returns an error, which the caller treats
// as fatal. Collective.
func (s *GMRES) Solve(cm *comm.Comm, a Operator, m Preconditioner, b, x []float64) (Report, error) {
	begin, end := a.OwnedRange()
	n := end - begin
	if len(b) != n || len(x) != n {
		return Report{}, fmt.Errorf("owned segment length mismatch: have b=%d x=%d, owned range is %d", len(b), len(x), n)
	}
	maxIter := a.NGlobal()
	restart := s.Restart
	if restart > maxIter {
		restart = maxIter
	}

	xFull := make([]float64, a.NGlobal())
	matvec := func(y, z []float64) {
		cm.AllGatherV(xFull, z)
		a.MulVec(y, xFull)
	}
	dot := func(u, v []float64) float64 {
		return cm.AllReduceSumScalar(floats.Dot(u, v))
	}
	norm := func(u []float64) float64 { return math.Sqrt(dot(u, u)) }

	normb := norm(b)
	if normb == 0 {
		for i := range x {
			x[i] = 0
		}
		return Report{Iterations: 0, Residual: 0, Converged: true}, nil
	}
	tol := s.RelTol * normb

	r := make([]float64, n)
	w := make([]float64, n)
	matvec(r, x)
	for i := range r {
		r[i] = b[i] - r[i]
	}
	resid := norm(r)

	v := make([][]float64, restart+1)
	z := make([][]float64, restart)
	for i := range v {
		v[i] = make([]float64, n)
	}
	for i := range z {
		z[i] = make([]float64, n)
	}
	h := make([][]float64, restart+1)
	for i := range h {
		h[i] = make([]float64, restart)
	}
	cs := make([]float64, restart)
	sn := make([]float64, restart)
	g := make([]float64, restart+1)

	iters := 0
	for resid > tol && iters < maxIter {
		beta := norm(r)
		for i := range v[0] {
			v[0][i] = r[i] / beta
		}
		for i := range g {
			g[i] = 0
		}
		g[0] = beta

		// Arnoldi with modified Gram-Schmidt on the preconditioned operator
		j := 0
		for ; j < restart && resid > tol && iters < maxIter; j++ {
			m.Apply(z[j], v[j])
			matvec(w, z[j])
			for i := 0; i <= j; i++ {
				h[i][j] = dot(w, v[i])
				floats.AddScaled(w, -h[i][j], v[i])
			}
			h[j+1][j] = norm(w)
			if h[j+1][j] != 0 {
				for i := range v[j+1] {
					v[j+1][i] = w[i] / h[j+1][j]
				}
			}
			// rotate the new column into upper-triangular form
			for i := 0; i < j; i++ {
				h[i][j], h[i+1][j] = cs[i]*h[i][j]+sn[i]*h[i+1][j],
					-sn[i]*h[i][j]+cs[i]*h[i+1][j]
			}
			cs[j], sn[j] = givens(h[j][j], h[j+1][j])
			h[j][j] = cs[j]*h[j][j] + sn[j]*h[j+1][j]
			h[j+1][j] = 0
			g[j], g[j+1] = cs[j]*g[j], -sn[j]*g[j]

			iters++
			resid = math.Abs(g[j+1])
		}

		// back-substitute and accumulate the correction in unpreconditioned
		// variables
		y := make([]float64, j)
		for i := j - 1; i >= 0; i-- {
			y[i] = g[i]
			for k := i + 1; k < j; k++ {
				y[i] -= h[i][k] * y[k]
			}
			y[i] /= h[i][i]
		}
		for i := 0; i < j; i++ {
			floats.AddScaled(x, y[i], z[i])
		}

		matvec(r, x)
		for i := range r {
			r[i] = b[i] - r[i]
		}
		resid = norm(r)
	}

	rep := Report{Iterations: iters, Residual: resid, Converged: resid <= tol}
	if !rep.Converged {
		return rep, fmt.Errorf("gmres stalled after %d iterations, residual %.3e against tolerance %.3e",
			iters, resid, tol)
	}
	return rep, nil
}

// givens returns the rotation annihilating b against a.
func givens(a, b float64) (c, s float64) {
	if b == 0 {
		return 1, 0
	}
	r := math.Hypot(a, b)
	return a / r, b / r
}
