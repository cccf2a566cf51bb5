// Package constraint stores closed affine constraints on DOFs: hanging-node
// continuity and homogeneous Dirichlet conditions. A constrained DOF is
// defined by a list of (master, coefficient) pairs plus an inhomogeneity:
//
//	x_c = sum_i coeff_i * x_master_i + inhomogeneity
//
// The set must be closed before it is used for assembly or distribution.
package constraint

import (
	"fmt"
	"sort"
)

// Entry is one master contribution of a constraint line.
type Entry struct {
	Master int
	Coeff  float64
}

type line struct {
	entries       []Entry
	inhomogeneity float64
}

type Constraints struct {
	lines  map[int]*line
	closed bool
}

func New() *Constraints {
	return &Constraints{lines: make(map[int]*line)}
}

// AddLine marks a DOF as constrained. Without entries and with zero
// inhomogeneity the line pins the DOF to zero.
func (c *Constraints) AddLine(dof int) {
	c.checkOpen()
	if _, ok := c.lines[dof]; !ok {
		c.lines[dof] = &line{}
	}
}

// AddEntry appends a master contribution to an existing line.
func (c *Constraints) AddEntry(dof, master int, coeff float64) {
	c.checkOpen()
	l, ok := c.lines[dof]
	if !ok {
		panic(fmt.Sprintf("AddEntry on dof %d without a constraint line", dof))
	}
	if master == dof {
		panic(fmt.Sprintf("dof %d cannot be its own master", dof))
	}
	l.entries = append(l.entries, Entry{Master: master, Coeff: coeff})
}

func (c *Constraints) SetInhomogeneity(dof int, v float64) {
	c.checkOpen()
	l, ok := c.lines[dof]
	if !ok {
		panic(fmt.Sprintf("SetInhomogeneity on dof %d without a constraint line", dof))
	}
	l.inhomogeneity = v
}

func (c *Constraints) checkOpen() {
	if c.closed {
		panic("constraint set is closed")
	}
}

func (c *Constraints) IsConstrained(dof int) bool {
	_, ok := c.lines[dof]
	return ok
}

func (c *Constraints) NConstraints() int { return len(c.lines) }

func (c *Constraints) IsClosed() bool { return c.closed }

// Close resolves chained constraints so that no master is itself
// constrained, merges duplicate masters, and freezes the set. Closing an
// already-closed set is a no-op.
func (c *Constraints) Close() error {
	if c.closed {
		return nil
	}
	// substitute constrained masters until a fixed point; a well-formed set
	// terminates in at most NConstraints passes
	for pass := 0; ; pass++ {
		if pass > len(c.lines)+1 {
			return fmt.Errorf("constraint closure did not terminate; cyclic constraints")
		}
		changed := false
		for _, l := range c.lines {
			var out []Entry
			for _, e := range l.entries {
				if ml, ok := c.lines[e.Master]; ok {
					changed = true
					l.inhomogeneity += e.Coeff * ml.inhomogeneity
					for _, me := range ml.entries {
						out = append(out, Entry{Master: me.Master, Coeff: e.Coeff * me.Coeff})
					}
				} else {
					out = append(out, e)
				}
			}
			l.entries = out
		}
		if !changed {
			break
		}
	}
	for _, l := range c.lines {
		l.entries = mergeEntries(l.entries)
	}
	c.closed = true
	return nil
}

func mergeEntries(entries []Entry) []Entry {
	if len(entries) < 2 {
		return entries
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Master < entries[j].Master })
	out := entries[:1]
	for _, e := range entries[1:] {
		if e.Master == out[len(out)-1].Master {
			out[len(out)-1].Coeff += e.Coeff
		} else {
			out = append(out, e)
		}
	}
	return out
}

// Line returns the resolved masters and inhomogeneity of a constrained DOF.
func (c *Constraints) Line(dof int) (entries []Entry, inhomogeneity float64, constrained bool) {
	l, ok := c.lines[dof]
	if !ok {
		return nil, 0, false
	}
	return l.entries, l.inhomogeneity, true
}

// ConstrainedDofs lists all constrained indices in increasing order.
func (c *Constraints) ConstrainedDofs() []int {
	out := make([]int, 0, len(c.lines))
	for dof := range c.lines {
		out = append(out, dof)
	}
	sort.Ints(out)
	return out
}

// Distribute overwrites the constrained entries of vec inside [begin, end)
// with their master values plus inhomogeneity. vec is indexed globally; only
// the owned range of the calling rank is written, ghost values are read.
func (c *Constraints) Distribute(vec []float64, begin, end int) {
	c.mustBeClosed()
	for dof, l := range c.lines {
		if dof < begin || dof >= end {
			continue
		}
		v := l.inhomogeneity
		for _, e := range l.entries {
			v += e.Coeff * vec[e.Master]
		}
		vec[dof] = v
	}
}

func (c *Constraints) mustBeClosed() {
	if !c.closed {
		panic("constraint set must be closed before use")
	}
}
