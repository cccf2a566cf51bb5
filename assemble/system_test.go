package assemble

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdelab/cdr2d/comm"
	"github.com/pdelab/cdr2d/constraint"
	"github.com/pdelab/cdr2d/dof"
	"github.com/pdelab/cdr2d/expr"
	"github.com/pdelab/cdr2d/linsolver"
	"github.com/pdelab/cdr2d/mesh"
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

func constant(v float64) expr.Evaluator {
	return expr.Func(func(map[string]float64) (float64, error) { return v, nil })
}

func rotation() [2]expr.Evaluator {
	return [2]expr.Evaluator{
		expr.Func(func(vars map[string]float64) (float64, error) { return -vars["y"], nil }),
		expr.Func(func(vars map[string]float64) (float64, error) { return vars["x"], nil }),
	}
}

func buildProblem(t *testing.T, level, np, order, rank int) (*dof.Handler, *constraint.Constraints) {
	m, err := mesh.NewShellMesh(1, 2, level)
	require.NoError(t, err)
	pl, err := m.Partition(np)
	require.NoError(t, err)
	h, err := dof.Distribute(m, pl, order)
	require.NoError(t, err)
	c := constraint.New()
	constraint.MakeHangingNodeConstraints(h, rank, c)
	constraint.MakeZeroBoundaryConstraints(h, rank, c)
	require.NoError(t, c.Close())
	return h, c
}

func TestElement(t *testing.T) {
	{ // Partition of unity and zero gradient sum at every quadrature point
		for _, order := range []int{1, 2, 3} {
			e, err := NewElement(order)
			require.NoError(t, err)
			for q := 0; q < e.NQPoints(); q++ {
				var sum, gx, gy float64
				for i := 0; i < e.NDofs(); i++ {
					sum += e.Val[q][i]
					gx += e.GradRef[q][i][0]
					gy += e.GradRef[q][i][1]
				}
				assert.InDelta(t, 1, sum, 1.e-12)
				assert.InDelta(t, 0, gx, 1.e-12)
				assert.InDelta(t, 0, gy, 1.e-12)
			}
		}
	}
	{ // Mapped cell volumes sum to the annulus area
		m, err := mesh.NewShellMesh(1, 2, 2)
		require.NoError(t, err)
		e, err := NewElement(2)
		require.NoError(t, err)
		var cv CellValues
		var area float64
		for _, c := range m.Cells {
			e.Reinit(m, c.ID, &cv)
			for q := range cv.JxW {
				area += cv.JxW[q]
			}
		}
		assert.InDelta(t, math.Pi*(4-1), area, 1.e-10)
	}
	{ // Invalid order
		_, err := NewElement(0)
		assert.Error(t, err)
	}
}

func TestSparsity(t *testing.T) {
	{ // The pattern contains every owned-row coupling of every rank's cells
		np := 3
		spmd(np, func(cm *comm.Comm) {
			h, c := buildProblem(t, 1, np, 2, cm.Rank())
			p := BuildSparsity(h, c, cm)
			begin, end := h.OwnedRange(cm.Rank())
			for _, cid := range h.Layout.OwnedCells[cm.Rank()] {
				for _, di := range h.CellDofs(cid) {
					if di < begin || di >= end || c.IsConstrained(di) {
						continue
					}
					for _, dj := range h.CellDofs(cid) {
						if c.IsConstrained(dj) {
							continue
						}
						assert.True(t, p.Has(di, dj))
					}
				}
			}
			// constrained diagonals present
			for _, d := range c.ConstrainedDofs() {
				if d >= begin && d < end {
					assert.True(t, p.Has(d, d))
				}
			}
		})
	}
}

func TestCreateSystemMatrix(t *testing.T) {
	{ // Pure mass matrix integrates the annulus area when nothing is
		// constrained: sum of all entries = integral of 1
		spmd(1, func(cm *comm.Comm) {
			m, err := mesh.NewShellMesh(1, 2, 2)
			require.NoError(t, err)
			pl, err := m.Partition(1)
			require.NoError(t, err)
			h, err := dof.Distribute(m, pl, 2)
			require.NoError(t, err)
			c := constraint.New()
			require.NoError(t, c.Close())

			coef := Coefficients{
				Convection: [2]expr.Evaluator{constant(0), constant(0)},
				Forcing:    constant(0),
			}
			e, err := NewElement(2)
			require.NoError(t, err)
			p := BuildSparsity(h, c, cm)
			a, err := CreateSystemMatrix(h, e, c, p, coef, 1.0, cm)
			require.NoError(t, err)

			var sum float64
			a.EachOwnedNonZero(func(_, _ int, v float64) { sum += v })
			assert.InDelta(t, math.Pi*(4-1), sum, 1.e-8)
		})
	}
	{ // Assembling twice produces bitwise identical operators
		np := 2
		spmd(np, func(cm *comm.Comm) {
			h, c := buildProblem(t, 1, np, 2, cm.Rank())
			e, err := NewElement(2)
			require.NoError(t, err)
			coef := Coefficients{
				Diffusion:  1.e-3,
				Reaction:   1.e-4,
				Convection: rotation(),
				Forcing:    constant(0),
			}
			p := BuildSparsity(h, c, cm)
			collect := func(a *linsolver.CSRMatrix) map[[2]int]float64 {
				out := make(map[[2]int]float64)
				a.EachOwnedNonZero(func(r, cl int, v float64) { out[[2]int{r, cl}] = v })
				return out
			}
			a1, err := CreateSystemMatrix(h, e, c, p, coef, 0.01, cm)
			require.NoError(t, err)
			a2, err := CreateSystemMatrix(h, e, c, p, coef, 0.01, cm)
			require.NoError(t, err)
			// bitwise equality entry by entry, the operator-reuse guarantee
			assert.Equal(t, collect(a1), collect(a2))
		})
	}
	{ // One rank and two ranks assemble the same global operator
		single := make(map[[2]int]float64)
		spmd(1, func(cm *comm.Comm) {
			h, c := buildProblem(t, 1, 1, 2, 0)
			e, _ := NewElement(2)
			coef := Coefficients{
				Diffusion:  1.e-3,
				Reaction:   1.e-4,
				Convection: rotation(),
				Forcing:    constant(0),
			}
			p := BuildSparsity(h, c, cm)
			a, err := CreateSystemMatrix(h, e, c, p, coef, 0.01, cm)
			require.NoError(t, err)
			a.EachOwnedNonZero(func(r, cl int, v float64) { single[[2]int{r, cl}] = v })
		})
		var mu sync.Mutex
		split := make(map[[2]int]float64)
		spmd(2, func(cm *comm.Comm) {
			h, c := buildProblem(t, 1, 2, 2, cm.Rank())
			e, _ := NewElement(2)
			coef := Coefficients{
				Diffusion:  1.e-3,
				Reaction:   1.e-4,
				Convection: rotation(),
				Forcing:    constant(0),
			}
			p := BuildSparsity(h, c, cm)
			a, err := CreateSystemMatrix(h, e, c, p, coef, 0.01, cm)
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			a.EachOwnedNonZero(func(r, cl int, v float64) { split[[2]int{r, cl}] = v })
		})
		assert.Equal(t, len(single), len(split))
		for key, v := range single {
			assert.InDelta(t, v, split[key], 1.e-12, "entry %v", key)
		}
	}
}

func TestCreateSystemRHS(t *testing.T) {
	{ // Determinism: the same inputs give bitwise identical vectors
		np := 3
		spmd(np, func(cm *comm.Comm) {
			h, c := buildProblem(t, 1, np, 2, cm.Rank())
			e, err := NewElement(2)
			require.NoError(t, err)
			coef := Coefficients{
				Convection: rotation(),
				Forcing: expr.Func(func(vars map[string]float64) (float64, error) {
					return math.Exp(-vars["t"]) * vars["x"], nil
				}),
			}
			uPrev := make([]float64, h.NDofs())
			for i := range uPrev {
				uPrev[i] = math.Sin(float64(i))
			}
			b1, err := CreateSystemRHS(h, e, c, coef, 0.01, 0.5, uPrev, cm)
			require.NoError(t, err)
			b2, err := CreateSystemRHS(h, e, c, coef, 0.01, 0.5, uPrev, cm)
			require.NoError(t, err)
			assert.Equal(t, b1, b2)
		})
	}
	{ // Zero previous solution and zero forcing give a zero rhs
		spmd(2, func(cm *comm.Comm) {
			h, c := buildProblem(t, 1, 2, 2, cm.Rank())
			e, err := NewElement(2)
			require.NoError(t, err)
			coef := Coefficients{
				Convection: rotation(),
				Forcing:    constant(0),
			}
			b, err := CreateSystemRHS(h, e, c, coef, 0.01, 1.0, make([]float64, h.NDofs()), cm)
			require.NoError(t, err)
			for i, v := range b {
				assert.Zero(t, v, "rhs entry %d", i)
			}
		})
	}
}
