package CDR2D

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdelab/cdr2d/InputParameters"
	"github.com/pdelab/cdr2d/comm"
	"github.com/pdelab/cdr2d/dof"
)

// reducedParams is a small configuration that exercises the whole pipeline in
// well under a second.
func reducedParams(outputDir string) *InputParameters.CDRParameters {
	ip := InputParameters.NewDefault()
	ip.RefinementLevel = 1
	ip.FEOrder = 1
	ip.FinalTime = 0.1
	ip.NSteps = 5
	ip.SaveInterval = 2
	ip.OutputDir = outputDir
	ip.Verbose = false
	return ip
}

// solveAll runs the problem on np ranks and returns rank 0's full ghosted
// solution together with its DOF handler.
func solveAll(t *testing.T, ip *InputParameters.CDRParameters, np int) ([]float64, *dof.Handler) {
	g := comm.NewGroup(np)
	defer g.Close()
	var (
		wg   sync.WaitGroup
		sol  []float64
		dofs *dof.Handler
	)
	errs := make([]error, np)
	for n := 0; n < np; n++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			cm := g.RankComm(rank)
			c, err := NewCDR(ip, cm)
			if errs[rank] = cm.SyncError(err); errs[rank] != nil {
				return
			}
			if errs[rank] = c.Setup(); errs[rank] != nil {
				return
			}
			if errs[rank] = c.TimeIterate(); errs[rank] != nil {
				return
			}
			if rank == 0 {
				sol = c.Solution()
				dofs = c.Dofs()
			}
		}(n)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	return sol, dofs
}

func TestCheckpointCadence(t *testing.T) {
	{ // NSteps=10, SaveInterval=4 writes ceil(10/4)=3 sets, at steps 0, 4, 8
		dir := t.TempDir()
		ip := reducedParams(dir)
		ip.NSteps = 10
		ip.SaveInterval = 4
		require.NoError(t, Run(ip, 2))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		var manifests, pieces []string
		for _, e := range entries {
			switch {
			case strings.HasSuffix(e.Name(), ".pvtu"):
				manifests = append(manifests, e.Name())
			case strings.HasSuffix(e.Name(), ".vtu"):
				pieces = append(pieces, e.Name())
			}
		}
		assert.ElementsMatch(t, []string{"solution-0.pvtu", "solution-4.pvtu", "solution-8.pvtu"}, manifests)
		assert.Len(t, pieces, 3*2) // one piece per rank per set
	}
	{ // SaveInterval=1 checkpoints every step
		dir := t.TempDir()
		ip := reducedParams(dir)
		ip.NSteps = 3
		ip.SaveInterval = 1
		require.NoError(t, Run(ip, 1))
		for step := 0; step < 3; step++ {
			_, err := os.Stat(filepath.Join(dir, fmt.Sprintf("solution-%d.pvtu", step)))
			assert.NoError(t, err)
		}
	}
	{ // The manifest lists every per-rank piece
		dir := t.TempDir()
		ip := reducedParams(dir)
		ip.NSteps = 2
		ip.SaveInterval = 2
		np := 3
		require.NoError(t, Run(ip, np))
		data, err := os.ReadFile(filepath.Join(dir, "solution-0.pvtu"))
		require.NoError(t, err)
		for rank := 0; rank < np; rank++ {
			piece := fmt.Sprintf("solution-0.%04d.vtu", rank)
			assert.Contains(t, string(data), piece)
			_, err := os.Stat(filepath.Join(dir, piece))
			assert.NoError(t, err)
		}
	}
}

func TestZeroData(t *testing.T) {
	{ // Zero forcing with a zero initial condition keeps the solution
		// identically zero through every step
		ip := reducedParams(t.TempDir())
		ip.Forcing = "0 * x * y * t"
		sol, _ := solveAll(t, ip, 2)
		require.NotNil(t, sol)
		for i, v := range sol {
			assert.Zero(t, v, "solution entry %d", i)
		}
	}
}

func TestEndToEnd(t *testing.T) {
	{ // Reduced configuration: the forcing injects mass, the solution responds
		// and stays bounded, boundary values stay pinned at zero
		ip := reducedParams(t.TempDir())
		sol, _ := solveAll(t, ip, 2)
		require.NotNil(t, sol)
		var maxAbs float64
		for _, v := range sol {
			if math.Abs(v) > maxAbs {
				maxAbs = math.Abs(v)
			}
		}
		assert.Greater(t, maxAbs, 0.0)
		assert.Less(t, maxAbs, 1.0)
	}
	{ // Full reference configuration
		if testing.Short() {
			t.Skip("full configuration skipped in short mode")
		}
		ip := InputParameters.NewDefault()
		ip.OutputDir = t.TempDir()
		ip.Verbose = false
		ip.SaveInterval = 50 // keep the file count down
		require.NoError(t, Run(ip, 4))
	}
}

func TestPartitionIndependence(t *testing.T) {
	{ // The converged solution does not depend on the rank count. Global DOF
		// numbering is ownership-dependent, so values are matched through
		// their support points, which are identical for any rank count.
		ip1 := reducedParams(t.TempDir())
		ip4 := reducedParams(t.TempDir())
		sol1, dofs1 := solveAll(t, ip1, 1)
		sol4, dofs4 := solveAll(t, ip4, 4)
		require.Equal(t, len(sol1), len(sol4))

		at4 := make(map[[2]float64]float64, len(sol4))
		for i := range sol4 {
			x, y := dofs4.SupportPoint(i)
			at4[[2]float64{x, y}] = sol4[i]
		}
		for i := range sol1 {
			x, y := dofs1.SupportPoint(i)
			v, ok := at4[[2]float64{x, y}]
			require.True(t, ok, "no matching node at (%g, %g)", x, y)
			assert.InDelta(t, sol1[i], v, 1.e-4, "node (%g, %g)", x, y)
		}
	}
}

func TestSetupValidation(t *testing.T) {
	{ // A malformed convection field fails before any geometry is built
		ip := reducedParams(t.TempDir())
		ip.Convection = "x" // one clause, need two
		err := Run(ip, 2)
		assert.Error(t, err)
	}
	{ // An expression referencing unknown variables fails during assembly on
		// every rank with the same error
		ip := reducedParams(t.TempDir())
		ip.Forcing = "x + q"
		err := Run(ip, 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "forcing")
	}
}
