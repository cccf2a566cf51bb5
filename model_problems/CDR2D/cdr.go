package CDR2D

import (
	"fmt"
	"sync"
	"time"

	"github.com/pdelab/cdr2d/InputParameters"
	"github.com/pdelab/cdr2d/assemble"
	"github.com/pdelab/cdr2d/comm"
	"github.com/pdelab/cdr2d/constraint"
	"github.com/pdelab/cdr2d/dof"
	"github.com/pdelab/cdr2d/expr"
	"github.com/pdelab/cdr2d/linsolver"
	"github.com/pdelab/cdr2d/mesh"
)

// SolverState labels the phase a rank is executing inside one time step.
type SolverState int

const (
	Idle SolverState = iota
	Assembling
	Solving
	Distributing
	Advancing
	Checkpointing
)

func (s SolverState) String() string {
	return [...]string{"Idle", "Assembling", "Solving", "Distributing", "Advancing", "Checkpointing"}[s]
}

/*
	CDR solves the scalar convection-diffusion-reaction equation

		du/dt - div(nu grad u) + w . grad u + gamma u = f

	on an annulus with homogeneous Dirichlet boundaries, discretized with
	continuous Q_k elements and backward Euler in time. Every rank runs the
	identical program on its owned cells; the operator is assembled once, the
	right-hand side once per step.
*/
type CDR struct {
	// Input parameters
	Params *InputParameters.CDRParameters

	cm     *comm.Comm
	msh    *mesh.Mesh
	layout *mesh.PartitionLayout
	dofs   *dof.Handler
	cst    *constraint.Constraints
	elem   *assemble.Element
	coef   assemble.Coefficients

	mat   *linsolver.CSRMatrix
	pre   linsolver.Preconditioner
	gmres *linsolver.GMRES

	// U is the full ghosted solution vector; uo the owned segment
	U  []float64
	uo []float64

	dt    float64
	Time  float64
	Step  int
	state SolverState
}

// NewCDR parses the expression fields and binds a rank view. Setup must be
// called before TimeIterate.
func NewCDR(ip *InputParameters.CDRParameters, cm *comm.Comm) (*CDR, error) {
	conv, err := expr.ParseVector(ip.Convection, 2)
	if err != nil {
		return nil, fmt.Errorf("convection field: %w", err)
	}
	forcing, err := expr.ParseScalar(ip.Forcing)
	if err != nil {
		return nil, fmt.Errorf("forcing term: %w", err)
	}
	c := &CDR{
		Params: ip,
		cm:     cm,
		coef: assemble.Coefficients{
			Diffusion:  ip.Diffusion,
			Reaction:   ip.Reaction,
			Convection: [2]expr.Evaluator{conv[0], conv[1]},
			Forcing:    forcing,
		},
		gmres: linsolver.NewGMRES(),
		dt:    (ip.FinalTime - ip.StartTime) / float64(ip.NSteps),
		Time:  ip.StartTime,
	}
	return c, nil
}

// Setup builds geometry, DOFs, constraints, sparsity, the time-invariant
// operator and its preconditioner. Collective.
func (c *CDR) Setup() (err error) {
	ip := c.Params
	c.msh, err = mesh.NewShellMesh(ip.InnerRadius, ip.OuterRadius, ip.RefinementLevel)
	if err = c.cm.SyncError(err); err != nil {
		return err
	}
	c.layout, err = c.msh.Partition(c.cm.Size())
	if err = c.cm.SyncError(err); err != nil {
		return err
	}
	c.dofs, err = dof.Distribute(c.msh, c.layout, ip.FEOrder)
	if err = c.cm.SyncError(err); err != nil {
		return err
	}
	c.elem, err = assemble.NewElement(ip.FEOrder)
	if err = c.cm.SyncError(err); err != nil {
		return err
	}

	c.cst = constraint.New()
	constraint.MakeHangingNodeConstraints(c.dofs, c.cm.Rank(), c.cst)
	constraint.MakeZeroBoundaryConstraints(c.dofs, c.cm.Rank(), c.cst)
	if err = c.cm.SyncError(c.cst.Close()); err != nil {
		return err
	}

	if c.Params.Verbose && c.cm.Rank() == 0 {
		fmt.Printf("Convection-Diffusion-Reaction in 2 Dimensions\n")
		fmt.Printf("Using %d go routines in parallel\n", c.cm.Size())
		fmt.Printf("Num Cells K = %d, Num DOFs = %d, dt = %8.6f\n\n", len(c.msh.Cells), c.dofs.NDofs(), c.dt)
	}

	c.state = Assembling
	pat := assemble.BuildSparsity(c.dofs, c.cst, c.cm)
	c.mat, err = assemble.CreateSystemMatrix(c.dofs, c.elem, c.cst, pat, c.coef, c.dt, c.cm)
	if err != nil {
		return err
	}
	c.pre = linsolver.NewAMGPreconditioner()
	if err = c.cm.SyncError(c.pre.Setup(c.mat)); err != nil {
		return err
	}

	begin, end := c.dofs.OwnedRange(c.cm.Rank())
	c.U = make([]float64, c.dofs.NDofs())
	c.uo = make([]float64, end-begin)
	c.state = Idle
	return nil
}

// TimeIterate runs the fixed-step backward-Euler loop: exactly NSteps steps
// of width (FinalTime-StartTime)/NSteps, checkpointing every SaveInterval-th
// step starting with the first. Collective.
func (c *CDR) TimeIterate() error {
	begin, end := c.dofs.OwnedRange(c.cm.Rank())
	elapsed := time.Duration(0)
	for step := 0; step < c.Params.NSteps; step++ {
		start := time.Now()
		tNext := c.Params.StartTime + float64(step+1)*c.dt

		c.state = Assembling
		b, err := assemble.CreateSystemRHS(c.dofs, c.elem, c.cst, c.coef, c.dt, tNext, c.U, c.cm)
		if err != nil {
			return err
		}

		c.state = Solving
		rep, err := c.gmres.Solve(c.cm, c.mat, c.pre, b, c.uo)
		if err = c.cm.SyncError(err); err != nil {
			return err
		}

		c.state = Distributing
		c.cm.AllGatherV(c.U, c.uo)
		c.cst.Distribute(c.U, begin, end)
		copy(c.uo, c.U[begin:end])
		c.cm.AllGatherV(c.U, c.uo)

		c.state = Advancing
		c.Step = step + 1
		c.Time = tNext
		elapsed += time.Since(start)

		if step%c.Params.SaveInterval == 0 {
			c.state = Checkpointing
			if err := c.WriteCheckpoint(step); err != nil {
				return err
			}
		}
		if c.Params.Verbose && c.cm.Rank() == 0 {
			fmt.Printf("step %4d, time%8.5f, gmres iterations %4d, residual %8.3e\n",
				c.Step, c.Time, rep.Iterations, rep.Residual)
		}
	}
	c.state = Idle
	if c.Params.Verbose && c.cm.Rank() == 0 {
		fmt.Printf("\ncompleted %d steps in %s\n", c.Params.NSteps, elapsed)
	}
	return nil
}

// Solution returns the full ghosted solution vector of this rank.
func (c *CDR) Solution() []float64 { return c.U }

// State reports the phase of the current or last step.
func (c *CDR) State() SolverState { return c.state }

// Dofs exposes the handler for inspection.
func (c *CDR) Dofs() *dof.Handler { return c.dofs }

// Run executes the whole problem on np ranks and blocks until all return.
// Any rank's failure is every rank's failure; the first error is returned.
func Run(ip *InputParameters.CDRParameters, np int) error {
	g := comm.NewGroup(np)
	defer g.Close()
	errs := make([]error, np)
	var wg sync.WaitGroup
	for n := 0; n < np; n++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = runRank(ip, g.RankComm(rank))
		}(n)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func runRank(ip *InputParameters.CDRParameters, cm *comm.Comm) error {
	c, err := NewCDR(ip, cm)
	if err = cm.SyncError(err); err != nil {
		return err
	}
	if err := c.Setup(); err != nil {
		return err
	}
	return c.TimeIterate()
}
