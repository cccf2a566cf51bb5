// Package linsolver is the linear-algebra boundary of the solver core. The
// core talks to an abstract row-partitioned operator, preconditioner and
// Krylov solver, so backends can be swapped without touching assembly or the
// time loop. The default backend stages contributions in a DOK, compresses to
// CSR (james-bowman/sparse), and solves with restarted GMRES preconditioned
// by a per-rank algebraic multigrid V-cycle.
package linsolver

import "github.com/pdelab/cdr2d/comm"

// Operator is a sparse matrix whose rows are partitioned by DOF ownership.
// Add accepts contributions to any row; rows owned elsewhere are buffered
// until Compress routes them to their owner. After Compress the values are
// frozen.
type Operator interface {
	NGlobal() int
	OwnedRange() (begin, end int)
	Add(row, col int, v float64)
	Compress(cm *comm.Comm)
	// MulVec computes the owned rows of A*x. x is the full ghosted vector,
	// y the owned segment.
	MulVec(y, x []float64)
	// EachOwnedNonZero visits the compressed owned rows in global indices.
	EachOwnedNonZero(fn func(row, col int, v float64))
}

// Preconditioner approximates the inverse of the operator. Setup is called
// once per run; Apply maps an owned-segment residual to a correction.
type Preconditioner interface {
	Setup(op Operator) error
	Apply(z, r []float64)
}

// Report describes the outcome of a Krylov solve.
type Report struct {
	Iterations int
	Residual   float64
	Converged  bool
}

// IdentityPreconditioner is the no-op fallback used by tests.
type IdentityPreconditioner struct{}

func (IdentityPreconditioner) Setup(op Operator) error { return nil }
func (IdentityPreconditioner) Apply(z, r []float64)    { copy(z, r) }
