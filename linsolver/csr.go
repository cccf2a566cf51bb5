package linsolver

import (
	"fmt"

	"github.com/james-bowman/sparse"

	"github.com/pdelab/cdr2d/comm"
)

// CSRMatrix stores the owned rows of a globally indexed sparse matrix. During
// assembly contributions are staged in a DOK; contributions to rows owned by
// other ranks are buffered and routed to their owner when Compress is called.
// Compress converts the DOK to CSR and freezes the values.
type CSRMatrix struct {
	begin, end int
	nGlobal    int
	ownerOf    func(row int) int

	dok        *sparse.DOK
	csr        *sparse.CSR
	pending    []comm.Triplet
	compressed bool
}

// NewCSRMatrix creates an empty operator for rows [begin, end) of an
// nGlobal x nGlobal system. ownerOf maps any global row to its owning rank.
func NewCSRMatrix(nGlobal, begin, end int, ownerOf func(row int) int) *CSRMatrix {
	if begin < 0 || end < begin || end > nGlobal {
		panic(fmt.Sprintf("owned range [%d, %d) invalid for %d global rows", begin, end, nGlobal))
	}
	return &CSRMatrix{
		begin:   begin,
		end:     end,
		nGlobal: nGlobal,
		ownerOf: ownerOf,
		dok:     sparse.NewDOK(end-begin, nGlobal),
	}
}

func (a *CSRMatrix) NGlobal() int { return a.nGlobal }

func (a *CSRMatrix) OwnedRange() (begin, end int) { return a.begin, a.end }

// Add accumulates v into (row, col). Off-owner rows are buffered until
// Compress.
func (a *CSRMatrix) Add(row, col int, v float64) {
	if a.compressed {
		panic("Add after Compress")
	}
	if row >= a.begin && row < a.end {
		r := row - a.begin
		a.dok.Set(r, col, a.dok.At(r, col)+v)
		return
	}
	a.pending = append(a.pending, comm.Triplet{Row: row, Col: col, Val: v})
}

// Compress routes buffered off-owner contributions to their owning ranks,
// folds received contributions into the local rows, and converts to CSR.
// Collective: every rank of the group must call it.
func (a *CSRMatrix) Compress(cm *comm.Comm) {
	if a.compressed {
		panic("Compress called twice")
	}
	for _, t := range a.pending {
		cm.PostTriplet(a.ownerOf(t.Row), t)
	}
	a.pending = nil
	for _, t := range cm.ExchangeTriplets() {
		r := t.Row - a.begin
		a.dok.Set(r, t.Col, a.dok.At(r, t.Col)+t.Val)
	}
	a.csr = a.dok.ToCSR()
	a.dok = nil
	a.compressed = true
}

// MulVec writes the owned rows of A*x into y. x is the full ghosted vector of
// length NGlobal, y the owned segment of length end-begin.
func (a *CSRMatrix) MulVec(y, x []float64) {
	a.mustBeCompressed()
	for i := range y {
		y[i] = 0
	}
	a.csr.DoNonZero(func(i, j int, v float64) {
		y[i] += v * x[j]
	})
}

// EachOwnedNonZero visits the compressed entries with global row indices.
func (a *CSRMatrix) EachOwnedNonZero(fn func(row, col int, v float64)) {
	a.mustBeCompressed()
	a.csr.DoNonZero(func(i, j int, v float64) {
		fn(i+a.begin, j, v)
	})
}

// At reads one compressed entry, global indices. Row must be owned.
func (a *CSRMatrix) At(row, col int) float64 {
	a.mustBeCompressed()
	return a.csr.At(row-a.begin, col)
}

// NNZ is the stored entry count of the owned rows.
func (a *CSRMatrix) NNZ() int {
	a.mustBeCompressed()
	return a.csr.NNZ()
}

func (a *CSRMatrix) mustBeCompressed() {
	if !a.compressed {
		panic("matrix must be compressed before use")
	}
}
