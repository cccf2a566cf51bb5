// Package comm provides the communication substrate for a fixed-size set of
// cooperating ranks running an identical program. Ranks are goroutines; the
// only suspension points are the blocking collectives below. Every collective
// must be entered by all ranks of the group, in the same order, or the run
// deadlocks -- which is the fatal outcome specified for a failed collective.
package comm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pdelab/cdr2d/utils"
)

// Entry is one sparsity-pattern coupling exchanged between ranks.
type Entry struct {
	Row, Col int
}

// Triplet is one matrix contribution routed to the owner of Row.
type Triplet struct {
	Row, Col int
	Val      float64
}

// Group owns the shared state of the substrate. Create one per run with
// NewGroup, hand a per-rank view to each worker with RankComm, and Close it
// after all ranks have returned.
type Group struct {
	np int

	// generation barrier
	bmu    sync.Mutex
	bcond  *sync.Cond
	bcount int
	bgen   int

	// staged per-rank slices for reductions and gathers; the reduction is
	// performed by the last rank entering the barrier, in rank order, so
	// results are bitwise identical from run to run
	contribs [][]float64
	scalars  []float64
	parts    [][]float64
	errs     []string

	mbEntries  *utils.MailBox[Entry]
	mbTriplets *utils.MailBox[Triplet]
}

func NewGroup(np int) *Group {
	if np < 1 {
		panic("communicator group needs at least one rank")
	}
	g := &Group{
		np:         np,
		contribs:   make([][]float64, np),
		scalars:    make([]float64, np),
		parts:      make([][]float64, np),
		errs:       make([]string, np),
		mbEntries:  utils.NewMailBox[Entry](np),
		mbTriplets: utils.NewMailBox[Triplet](np),
	}
	g.bcond = sync.NewCond(&g.bmu)
	return g
}

// Close tears the substrate down. All ranks must have left their collectives.
func (g *Group) Close() {
	for n := 0; n < g.np; n++ {
		close(g.mbEntries.MessageChans[n])
		close(g.mbTriplets.MessageChans[n])
	}
}

// RankComm returns the view of the group for one rank.
func (g *Group) RankComm(rank int) *Comm {
	if rank < 0 || rank >= g.np {
		panic(fmt.Sprintf("rank %d outside group of size %d", rank, g.np))
	}
	return &Comm{g: g, rank: rank}
}

// Comm is the per-rank handle passed through every phase of the solve.
type Comm struct {
	g    *Group
	rank int
}

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return c.g.np }

// Barrier blocks until every rank of the group has entered it.
func (c *Comm) Barrier() { c.g.barrier(nil) }

// barrier releases all ranks together; onLast runs in the final arriver while
// the barrier lock is held, so shared staging areas can be reduced or reset
// without extra synchronization.
func (g *Group) barrier(onLast func()) {
	g.bmu.Lock()
	gen := g.bgen
	g.bcount++
	if g.bcount == g.np {
		if onLast != nil {
			onLast()
		}
		g.bcount = 0
		g.bgen++
		g.bcond.Broadcast()
		g.bmu.Unlock()
		return
	}
	for gen == g.bgen {
		g.bcond.Wait()
	}
	g.bmu.Unlock()
}

// AllReduceSum sums src element-wise across all ranks into dst on every rank.
// dst and src must have the same length on every rank. Summation happens in
// rank order, so the result is deterministic.
func (c *Comm) AllReduceSum(dst, src []float64) {
	g := c.g
	g.contribs[c.rank] = src
	var accum []float64
	g.barrier(func() {
		accum = make([]float64, len(src))
		for r := 0; r < g.np; r++ {
			if len(g.contribs[r]) != len(accum) {
				panic(fmt.Sprintf("AllReduceSum length mismatch: rank %d has %d, expected %d",
					r, len(g.contribs[r]), len(accum)))
			}
			for i, v := range g.contribs[r] {
				accum[i] += v
			}
		}
		for r := 0; r < g.np; r++ {
			g.contribs[r] = accum
		}
	})
	copy(dst, g.contribs[c.rank])
	g.barrier(func() {
		for r := 0; r < g.np; r++ {
			g.contribs[r] = nil
		}
	})
}

// AllReduceSumScalar is AllReduceSum for a single value.
func (c *Comm) AllReduceSumScalar(v float64) float64 {
	g := c.g
	g.scalars[c.rank] = v
	var sum float64
	g.barrier(func() {
		for r := 0; r < g.np; r++ {
			sum += g.scalars[r]
		}
		for r := 0; r < g.np; r++ {
			g.scalars[r] = sum
		}
	})
	out := g.scalars[c.rank]
	g.barrier(nil)
	return out
}

// AllReduceMaxScalar returns the maximum of v across all ranks.
func (c *Comm) AllReduceMaxScalar(v float64) float64 {
	g := c.g
	g.scalars[c.rank] = v
	g.barrier(func() {
		m := g.scalars[0]
		for r := 1; r < g.np; r++ {
			if g.scalars[r] > m {
				m = g.scalars[r]
			}
		}
		for r := 0; r < g.np; r++ {
			g.scalars[r] = m
		}
	})
	out := g.scalars[c.rank]
	g.barrier(nil)
	return out
}

// AllGatherV concatenates the per-rank src slices in rank order into dst on
// every rank. len(dst) must equal the sum of all src lengths. It implements
// the ghost-refresh collective: each rank contributes its owned segment and
// reads back the full vector.
func (c *Comm) AllGatherV(dst, src []float64) {
	g := c.g
	g.parts[c.rank] = src
	g.barrier(nil)
	ofs := 0
	for r := 0; r < g.np; r++ {
		part := g.parts[r]
		if ofs+len(part) > len(dst) {
			panic("AllGatherV: destination shorter than gathered parts")
		}
		copy(dst[ofs:ofs+len(part)], part)
		ofs += len(part)
	}
	if ofs != len(dst) {
		panic(fmt.Sprintf("AllGatherV: gathered %d values into a vector of length %d", ofs, len(dst)))
	}
	g.barrier(func() {
		for r := 0; r < g.np; r++ {
			g.parts[r] = nil
		}
	})
}

// PostEntry queues a sparsity coupling for the rank owning its row.
func (c *Comm) PostEntry(target int, e Entry) {
	c.g.mbEntries.PostMessage(c.rank, target, e)
}

// ExchangeEntries delivers all posted couplings and returns the ones
// addressed to this rank. Collective.
func (c *Comm) ExchangeEntries() []Entry {
	g := c.g
	g.mbEntries.DeliverMyMessages(c.rank)
	c.Barrier()
	in := g.mbEntries.ReceiveMyMessages(c.rank)
	out := make([]Entry, len(in))
	copy(out, in)
	g.mbEntries.ClearMyMessages(c.rank)
	c.Barrier()
	return out
}

// PostTriplet queues a matrix contribution for the rank owning its row.
func (c *Comm) PostTriplet(target int, t Triplet) {
	c.g.mbTriplets.PostMessage(c.rank, target, t)
}

// ExchangeTriplets delivers all posted contributions and returns the ones
// addressed to this rank, sorted for deterministic accumulation. Collective.
func (c *Comm) ExchangeTriplets() []Triplet {
	g := c.g
	g.mbTriplets.DeliverMyMessages(c.rank)
	c.Barrier()
	in := g.mbTriplets.ReceiveMyMessages(c.rank)
	out := make([]Triplet, len(in))
	copy(out, in)
	g.mbTriplets.ClearMyMessages(c.rank)
	c.Barrier()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		if out[i].Col != out[j].Col {
			return out[i].Col < out[j].Col
		}
		return out[i].Val < out[j].Val
	})
	return out
}

// SyncError makes a local failure visible to every rank. All ranks call it at
// each phase boundary; if any rank passed a non-nil error, all ranks receive
// the same combined error and the run terminates everywhere.
func (c *Comm) SyncError(err error) error {
	g := c.g
	if err != nil {
		g.errs[c.rank] = err.Error()
	} else {
		g.errs[c.rank] = ""
	}
	var combined string
	g.barrier(func() {
		var msgs []string
		for r := 0; r < g.np; r++ {
			if g.errs[r] != "" {
				msgs = append(msgs, fmt.Sprintf("rank %d: %s", r, g.errs[r]))
			}
		}
		combined = strings.Join(msgs, "; ")
		for r := 0; r < g.np; r++ {
			g.errs[r] = combined
		}
	})
	out := g.errs[c.rank]
	g.barrier(func() {
		for r := 0; r < g.np; r++ {
			g.errs[r] = ""
		}
	})
	if out != "" {
		return errors.New(out)
	}
	return nil
}
