// Package assemble builds the discrete operator and right-hand sides of the
// scalar convection-diffusion-reaction problem: continuous Q_k Lagrange
// elements on the shell mesh, tensor Gauss-Legendre quadrature, and the
// constraint-condensing scatter from element matrices into the distributed
// system.
package assemble

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"

	"github.com/pdelab/cdr2d/mesh"
)

// Element is the Q_k Lagrange element on the reference square [-1,1]^2 with
// equally spaced nodes. Basis values and reference gradients are tabulated at
// the tensor quadrature points once; local ordering matches dof.CellDofs:
// row-major over the (k+1)x(k+1) node lattice, second direction major.
type Element struct {
	Order int
	NQ    int // quadrature points per direction

	nodes1d []float64
	qx      []float64 // 1D quadrature points
	qw      []float64

	QP      [][2]float64
	QW      []float64
	Val     [][]float64    // Val[q][i]
	GradRef [][][2]float64 // GradRef[q][i] = (d/dxi1, d/dxi2)
}

// NewElement tabulates a Q_k element. Quadrature uses order+2 Gauss points
// per direction, enough to integrate the convection term exactly on affine
// cells.
func NewElement(order int) (*Element, error) {
	if order < 1 {
		return nil, fmt.Errorf("element order must be positive, got %d", order)
	}
	e := &Element{Order: order, NQ: order + 2}

	e.nodes1d = make([]float64, order+1)
	for a := 0; a <= order; a++ {
		e.nodes1d[a] = -1 + 2*float64(a)/float64(order)
	}
	e.qx = make([]float64, e.NQ)
	e.qw = make([]float64, e.NQ)
	quad.Legendre{}.FixedLocations(e.qx, e.qw, -1, 1)

	ndofs := (order + 1) * (order + 1)
	nq := e.NQ * e.NQ
	e.QP = make([][2]float64, nq)
	e.QW = make([]float64, nq)
	e.Val = make([][]float64, nq)
	e.GradRef = make([][][2]float64, nq)
	for q2 := 0; q2 < e.NQ; q2++ {
		for q1 := 0; q1 < e.NQ; q1++ {
			q := q2*e.NQ + q1
			xi, eta := e.qx[q1], e.qx[q2]
			e.QP[q] = [2]float64{xi, eta}
			e.QW[q] = e.qw[q1] * e.qw[q2]
			e.Val[q] = make([]float64, ndofs)
			e.GradRef[q] = make([][2]float64, ndofs)
			for b := 0; b <= order; b++ {
				lb, dlb := e.lagrange1d(b, eta)
				for a := 0; a <= order; a++ {
					la, dla := e.lagrange1d(a, xi)
					i := b*(order+1) + a
					e.Val[q][i] = la * lb
					e.GradRef[q][i] = [2]float64{dla * lb, la * dlb}
				}
			}
		}
	}
	return e, nil
}

func (e *Element) NDofs() int { return (e.Order + 1) * (e.Order + 1) }

func (e *Element) NQPoints() int { return e.NQ * e.NQ }

// lagrange1d evaluates the a-th 1D Lagrange polynomial and its derivative.
func (e *Element) lagrange1d(a int, x float64) (val, der float64) {
	val = 1
	for m, xm := range e.nodes1d {
		if m == a {
			continue
		}
		val *= (x - xm) / (e.nodes1d[a] - xm)
	}
	for m, xm := range e.nodes1d {
		if m == a {
			continue
		}
		term := 1 / (e.nodes1d[a] - xm)
		for l, xl := range e.nodes1d {
			if l == a || l == m {
				continue
			}
			term *= (x - xl) / (e.nodes1d[a] - xl)
		}
		der += term
	}
	return val, der
}

// CellValues holds the mapped quadrature data of one cell: physical points,
// integration weights including the Jacobian determinant, and physical basis
// gradients.
type CellValues struct {
	X, Y []float64
	JxW  []float64
	Grad [][][2]float64 // Grad[q][i] = (d/dx, d/dy)
}

// Reinit maps the reference tables onto a cell. Cells are rectangles in the
// manifold parameters (theta, r), so the mapping composes an affine parameter
// map with the polar chart; the result is exact curved geometry, matching the
// node placement of dof.SupportPoint.
func (e *Element) Reinit(m *mesh.Mesh, cid int, cv *CellValues) {
	ct, cr := m.CellColRow(cid)
	t0 := m.Theta[ct]
	t1 := m.Theta[(ct+1)%m.Ntheta]
	if t1 <= t0 {
		t1 += 2 * math.Pi
	}
	r0, r1 := m.R[cr], m.R[cr+1]
	dth, drr := (t1-t0)/2, (r1-r0)/2

	nq := e.NQPoints()
	nd := e.NDofs()
	if cv.X == nil {
		cv.X = make([]float64, nq)
		cv.Y = make([]float64, nq)
		cv.JxW = make([]float64, nq)
		cv.Grad = make([][][2]float64, nq)
		for q := range cv.Grad {
			cv.Grad[q] = make([][2]float64, nd)
		}
	}
	for q := 0; q < nq; q++ {
		theta := t0 + (e.QP[q][0]+1)*dth
		r := r0 + (e.QP[q][1]+1)*drr
		sin, cos := math.Sincos(theta)
		cv.X[q] = r * cos
		cv.Y[q] = r * sin

		// Jacobian of (xi1, xi2) -> (x, y) through the polar chart
		a := -dth * r * sin // dx/dxi1
		b := drr * cos      // dx/dxi2
		c := dth * r * cos  // dy/dxi1
		d := drr * sin      // dy/dxi2
		det := a*d - b*c
		cv.JxW[q] = math.Abs(det) * e.QW[q]
		for i := 0; i < nd; i++ {
			g := e.GradRef[q][i]
			cv.Grad[q][i][0] = (d*g[0] - c*g[1]) / det
			cv.Grad[q][i][1] = (-b*g[0] + a*g[1]) / det
		}
	}
}
