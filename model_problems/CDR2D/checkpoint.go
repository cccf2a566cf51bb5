package CDR2D

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// WriteCheckpoint emits one checkpoint set: every rank writes a VTU piece
// with its owned cells and rank 0 writes the PVTU manifest referencing all
// pieces. The payload is the bilinear corner restriction of the solution plus
// a per-cell owning-rank field. Checkpointing only reads solver state.
// Collective.
func (c *CDR) WriteCheckpoint(step int) error {
	err := c.writePiece(step)
	if err = c.cm.SyncError(err); err != nil {
		return err
	}
	if c.cm.Rank() == 0 {
		err = c.writeManifest(step)
	}
	if err = c.cm.SyncError(err); err != nil {
		return err
	}
	c.cm.Barrier()
	return nil
}

func pieceName(step, rank int) string {
	return fmt.Sprintf("solution-%d.%04d.vtu", step, rank)
}

func manifestName(step int) string {
	return fmt.Sprintf("solution-%d.pvtu", step)
}

func (c *CDR) writePiece(step int) error {
	rank := c.cm.Rank()
	path := filepath.Join(c.Params.OutputDir, pieceName(step, rank))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create checkpoint piece: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	owned := c.layout.OwnedCells[rank]
	nCells := len(owned)
	nPoints := 4 * nCells

	fmt.Fprintf(w, "<?xml version=\"1.0\"?>\n")
	fmt.Fprintf(w, "<VTKFile type=\"UnstructuredGrid\" version=\"0.1\" byte_order=\"LittleEndian\">\n")
	fmt.Fprintf(w, "  <UnstructuredGrid>\n")
	fmt.Fprintf(w, "    <Piece NumberOfPoints=\"%d\" NumberOfCells=\"%d\">\n", nPoints, nCells)

	fmt.Fprintf(w, "      <Points>\n        <DataArray type=\"Float64\" NumberOfComponents=\"3\" format=\"ascii\">\n")
	for _, cid := range owned {
		for _, vid := range c.msh.Cells[cid].V {
			v := c.msh.Verts[vid]
			fmt.Fprintf(w, "          %.16g %.16g 0\n", v[0], v[1])
		}
	}
	fmt.Fprintf(w, "        </DataArray>\n      </Points>\n")

	fmt.Fprintf(w, "      <Cells>\n        <DataArray type=\"Int32\" Name=\"connectivity\" format=\"ascii\">\n")
	for i := 0; i < nCells; i++ {
		fmt.Fprintf(w, "          %d %d %d %d\n", 4*i, 4*i+1, 4*i+2, 4*i+3)
	}
	fmt.Fprintf(w, "        </DataArray>\n        <DataArray type=\"Int32\" Name=\"offsets\" format=\"ascii\">\n")
	for i := 0; i < nCells; i++ {
		fmt.Fprintf(w, "          %d\n", 4*(i+1))
	}
	fmt.Fprintf(w, "        </DataArray>\n        <DataArray type=\"UInt8\" Name=\"types\" format=\"ascii\">\n")
	for i := 0; i < nCells; i++ {
		fmt.Fprintf(w, "          9\n") // VTK_QUAD
	}
	fmt.Fprintf(w, "        </DataArray>\n      </Cells>\n")

	fmt.Fprintf(w, "      <PointData Scalars=\"solution\">\n        <DataArray type=\"Float64\" Name=\"solution\" format=\"ascii\">\n")
	for _, cid := range owned {
		for _, vid := range c.msh.Cells[cid].V {
			fmt.Fprintf(w, "          %.16g\n", c.U[c.dofs.VertexDof(vid)])
		}
	}
	fmt.Fprintf(w, "        </DataArray>\n      </PointData>\n")

	fmt.Fprintf(w, "      <CellData>\n        <DataArray type=\"Int32\" Name=\"owner\" format=\"ascii\">\n")
	for i := 0; i < nCells; i++ {
		fmt.Fprintf(w, "          %d\n", rank)
	}
	fmt.Fprintf(w, "        </DataArray>\n      </CellData>\n")

	fmt.Fprintf(w, "    </Piece>\n  </UnstructuredGrid>\n</VTKFile>\n")
	if err := w.Flush(); err != nil {
		return fmt.Errorf("cannot flush checkpoint piece: %w", err)
	}
	return nil
}

func (c *CDR) writeManifest(step int) error {
	path := filepath.Join(c.Params.OutputDir, manifestName(step))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create checkpoint manifest: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	fmt.Fprintf(w, "<?xml version=\"1.0\"?>\n")
	fmt.Fprintf(w, "<VTKFile type=\"PUnstructuredGrid\" version=\"0.1\" byte_order=\"LittleEndian\">\n")
	fmt.Fprintf(w, "  <PUnstructuredGrid GhostLevel=\"0\">\n")
	fmt.Fprintf(w, "    <PPoints>\n      <PDataArray type=\"Float64\" NumberOfComponents=\"3\"/>\n    </PPoints>\n")
	fmt.Fprintf(w, "    <PPointData Scalars=\"solution\">\n      <PDataArray type=\"Float64\" Name=\"solution\"/>\n    </PPointData>\n")
	fmt.Fprintf(w, "    <PCellData>\n      <PDataArray type=\"Int32\" Name=\"owner\"/>\n    </PCellData>\n")
	for rank := 0; rank < c.cm.Size(); rank++ {
		fmt.Fprintf(w, "    <Piece Source=\"%s\"/>\n", pieceName(step, rank))
	}
	fmt.Fprintf(w, "  </PUnstructuredGrid>\n</VTKFile>\n")
	if err := w.Flush(); err != nil {
		return fmt.Errorf("cannot flush checkpoint manifest: %w", err)
	}
	return nil
}
