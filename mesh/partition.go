package mesh

import (
	"fmt"

	"github.com/pdelab/cdr2d/utils"
)

// PartitionLayout assigns every cell of a mesh to exactly one owning rank and
// records, per rank, the ghost layer: face neighbors of owned cells that are
// owned elsewhere. Ownership follows the contiguous block split of
// PartitionMap, so consecutive cell ids land on the same rank.
type PartitionLayout struct {
	NP         int
	CellOwner  []int
	OwnedCells [][]int
	GhostCells [][]int

	pm *utils.PartitionMap
}

// Partition splits the mesh cells across np ranks and validates the result.
func (m *Mesh) Partition(np int) (*PartitionLayout, error) {
	ncells := m.NumCells()
	if np < 1 || np > ncells {
		return nil, fmt.Errorf("cannot split %d cells across %d ranks", ncells, np)
	}
	pl := &PartitionLayout{
		NP:         np,
		CellOwner:  make([]int, ncells),
		OwnedCells: make([][]int, np),
		GhostCells: make([][]int, np),
		pm:         utils.NewPartitionMap(np, ncells),
	}
	for rank := 0; rank < np; rank++ {
		kmin, kmax := pl.pm.GetBucketRange(rank)
		pl.OwnedCells[rank] = make([]int, 0, kmax-kmin)
		for k := kmin; k < kmax; k++ {
			pl.CellOwner[k] = rank
			pl.OwnedCells[rank] = append(pl.OwnedCells[rank], k)
		}
	}
	for rank := 0; rank < np; rank++ {
		seen := make(map[int]bool)
		for _, cid := range pl.OwnedCells[rank] {
			for _, nbr := range m.Cells[cid].Neighbors {
				if nbr < 0 || pl.CellOwner[nbr] == rank || seen[nbr] {
					continue
				}
				seen[nbr] = true
				pl.GhostCells[rank] = append(pl.GhostCells[rank], nbr)
			}
		}
	}
	if err := pl.validate(ncells); err != nil {
		return nil, err
	}
	return pl, nil
}

// validate checks that ownership is a true partition: every cell has exactly
// one owner and the per-rank owned lists are disjoint and cover all cells.
func (pl *PartitionLayout) validate(ncells int) error {
	counted := make([]int, ncells)
	total := 0
	for rank, owned := range pl.OwnedCells {
		for _, cid := range owned {
			if pl.CellOwner[cid] != rank {
				return fmt.Errorf("cell %d listed as owned by rank %d but assigned to rank %d",
					cid, rank, pl.CellOwner[cid])
			}
			counted[cid]++
			total++
		}
	}
	if total != ncells {
		return fmt.Errorf("partition covers %d of %d cells", total, ncells)
	}
	for cid, n := range counted {
		if n != 1 {
			return fmt.Errorf("cell %d owned by %d ranks", cid, n)
		}
	}
	return nil
}

// OwnerOf returns the rank owning a cell.
func (pl *PartitionLayout) OwnerOf(cid int) int { return pl.CellOwner[cid] }

// RelevantCells returns the owned cells plus the ghost layer of a rank.
func (pl *PartitionLayout) RelevantCells(rank int) []int {
	out := make([]int, 0, len(pl.OwnedCells[rank])+len(pl.GhostCells[rank]))
	out = append(out, pl.OwnedCells[rank]...)
	out = append(out, pl.GhostCells[rank]...)
	return out
}
