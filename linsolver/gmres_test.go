package linsolver

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/pdelab/cdr2d/comm"
)

func spmd(np int, body func(cm *comm.Comm)) {
	g := comm.NewGroup(np)
	defer g.Close()
	var wg sync.WaitGroup
	for n := 0; n < np; n++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			body(g.RankComm(rank))
		}(n)
	}
	wg.Wait()
}

// laplacian1D adds the rows [begin, end) of the n x n tridiagonal stencil
// (-1, 2, -1) with Dirichlet ends.
func laplacian1D(a *CSRMatrix, n, begin, end int) {
	for i := begin; i < end; i++ {
		a.Add(i, i, 2)
		if i > 0 {
			a.Add(i, i-1, -1)
		}
		if i < n-1 {
			a.Add(i, i+1, -1)
		}
	}
}

func TestCSRMatrix(t *testing.T) {
	{ // Accumulation and compress on one rank
		spmd(1, func(cm *comm.Comm) {
			a := NewCSRMatrix(3, 0, 3, func(int) int { return 0 })
			a.Add(0, 0, 1)
			a.Add(0, 0, 1)
			a.Add(2, 1, -3)
			a.Compress(cm)
			assert.Equal(t, 2.0, a.At(0, 0))
			assert.Equal(t, -3.0, a.At(2, 1))

			y := make([]float64, 3)
			a.MulVec(y, []float64{1, 2, 3})
			assert.Equal(t, []float64{2, 0, -6}, y)
		})
	}
	{ // Off-owner contributions are routed to the row owner at Compress
		n := 6
		ownerOf := func(row int) int {
			if row < 3 {
				return 0
			}
			return 1
		}
		spmd(2, func(cm *comm.Comm) {
			begin, end := 0, 3
			if cm.Rank() == 1 {
				begin, end = 3, 6
			}
			a := NewCSRMatrix(n, begin, end, ownerOf)
			// each rank also contributes to a row the other rank owns
			a.Add(begin, begin, 1)
			other := (begin + 3) % n
			a.Add(other, other, 2)
			a.Compress(cm)
			assert.Equal(t, 3.0, a.At(begin, begin)) // 1 local + 2 routed in
		})
	}
	{ // Add after Compress panics
		spmd(1, func(cm *comm.Comm) {
			a := NewCSRMatrix(2, 0, 2, func(int) int { return 0 })
			a.Add(0, 0, 1)
			a.Compress(cm)
			assert.Panics(t, func() { a.Add(1, 1, 1) })
		})
	}
}

func TestGMRES(t *testing.T) {
	{ // Single rank, identity preconditioner, checked against a dense solve
		n := 20
		spmd(1, func(cm *comm.Comm) {
			a := NewCSRMatrix(n, 0, n, func(int) int { return 0 })
			laplacian1D(a, n, 0, n)
			a.Compress(cm)

			b := make([]float64, n)
			for i := range b {
				b[i] = float64(i%3) + 1
			}
			x := make([]float64, n)
			rep, err := NewGMRES().Solve(cm, a, IdentityPreconditioner{}, b, x)
			require.NoError(t, err)
			assert.True(t, rep.Converged)

			dense := mat.NewDense(n, n, nil)
			a.EachOwnedNonZero(func(row, col int, v float64) { dense.Set(row, col, v) })
			var want mat.VecDense
			require.NoError(t, want.SolveVec(dense, mat.NewVecDense(n, b)))
			for i := 0; i < n; i++ {
				assert.InDelta(t, want.AtVec(i), x[i], 1.e-3)
			}
		})
	}
	{ // Two ranks agree on the iteration count and the solution
		n := 40
		ownerOf := func(row int) int {
			if row < n/2 {
				return 0
			}
			return 1
		}
		iters := make([]int, 2)
		sols := make([][]float64, 2)
		spmd(2, func(cm *comm.Comm) {
			begin, end := 0, n/2
			if cm.Rank() == 1 {
				begin, end = n/2, n
			}
			a := NewCSRMatrix(n, begin, end, ownerOf)
			laplacian1D(a, n, begin, end)
			a.Compress(cm)

			b := make([]float64, end-begin)
			for i := range b {
				b[i] = 1
			}
			x := make([]float64, end-begin)
			rep, err := NewGMRES().Solve(cm, a, IdentityPreconditioner{}, b, x)
			require.NoError(t, err)
			iters[cm.Rank()] = rep.Iterations
			full := make([]float64, n)
			cm.AllGatherV(full, x)
			sols[cm.Rank()] = full
		})
		assert.Equal(t, iters[0], iters[1])
		assert.Equal(t, sols[0], sols[1])
	}
	{ // Zero rhs short-circuits to the zero solution
		spmd(1, func(cm *comm.Comm) {
			n := 5
			a := NewCSRMatrix(n, 0, n, func(int) int { return 0 })
			laplacian1D(a, n, 0, n)
			a.Compress(cm)
			x := []float64{1, 1, 1, 1, 1}
			rep, err := NewGMRES().Solve(cm, a, IdentityPreconditioner{}, make([]float64, n), x)
			require.NoError(t, err)
			assert.True(t, rep.Converged)
			assert.Equal(t, 0, rep.Iterations)
			assert.Equal(t, []float64{0, 0, 0, 0, 0}, x)
		})
	}
}

func TestAMGPreconditioner(t *testing.T) {
	{ // Small blocks use the direct factorization: one application solves
		spmd(1, func(cm *comm.Comm) {
			n := 10
			a := NewCSRMatrix(n, 0, n, func(int) int { return 0 })
			laplacian1D(a, n, 0, n)
			a.Compress(cm)
			p := NewAMGPreconditioner()
			require.NoError(t, p.Setup(a))

			b := make([]float64, n)
			b[n/2] = 1
			z := make([]float64, n)
			p.Apply(z, b)
			az := make([]float64, n)
			a.MulVec(az, z)
			for i := range az {
				assert.InDelta(t, b[i], az[i], 1.e-10)
			}
		})
	}
	{ // Large block: the V-cycle accelerates GMRES on a 2D Laplacian
		nx := 16
		n := nx * nx
		spmd(1, func(cm *comm.Comm) {
			a := NewCSRMatrix(n, 0, n, func(int) int { return 0 })
			for j := 0; j < nx; j++ {
				for i := 0; i < nx; i++ {
					row := j*nx + i
					a.Add(row, row, 4)
					if i > 0 {
						a.Add(row, row-1, -1)
					}
					if i < nx-1 {
						a.Add(row, row+1, -1)
					}
					if j > 0 {
						a.Add(row, row-nx, -1)
					}
					if j < nx-1 {
						a.Add(row, row+nx, -1)
					}
				}
			}
			a.Compress(cm)

			p := NewAMGPreconditioner()
			require.NoError(t, p.Setup(a))
			b := make([]float64, n)
			for i := range b {
				b[i] = 1
			}
			xAMG := make([]float64, n)
			repAMG, err := NewGMRES().Solve(cm, a, p, b, xAMG)
			require.NoError(t, err)
			xID := make([]float64, n)
			repID, err := NewGMRES().Solve(cm, a, IdentityPreconditioner{}, b, xID)
			require.NoError(t, err)
			assert.Less(t, repAMG.Iterations, repID.Iterations)
			for i := range xAMG {
				assert.InDelta(t, xID[i], xAMG[i], 1.e-2)
			}
		})
	}
	{ // Zero diagonal is rejected at setup
		spmd(1, func(cm *comm.Comm) {
			a := NewCSRMatrix(2, 0, 2, func(int) int { return 0 })
			a.Add(0, 1, 1)
			a.Add(1, 0, 1)
			a.Add(0, 0, 0)
			a.Add(1, 1, 0)
			a.Compress(cm)
			assert.Error(t, NewAMGPreconditioner().Setup(a))
		})
	}
}
