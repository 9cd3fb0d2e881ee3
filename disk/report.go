package disk

import (
	"io"
	"slices"

	"github.com/goldos/goldos/translate"
)

// Report summarizes the state of the disk.
type Report struct {
	Blocks          []Block
	FreeBlocks      int
	FreeBytes       int
	LargestFree     int
	AllocatedBlocks int
	AllocatedBytes  int
	End             int // Address where the walk stopped.
}

// Inspect walks the disk, verifying that every header has a matching
// footer and that the blocks tile the store exactly.
func (d *Disk) Inspect() (report Report, err error) {
	if !d.Formatted() {
		err = ErrUnformatted
		return
	}

	end := d.end()
	report.End = HEADER_SIZE
	for pos, header := range d.walk() {
		size := int(header & BLOCK_SIZE_MASK)
		footer := pos + 2 + size
		if footer+2 > end || d.header(footer) != header {
			err = &ErrWalk{Address: pos, Err: ErrCorrupt}
			return
		}

		blk := Block{
			Address:   uint16(pos + 2),
			Size:      uint16(size),
			Allocated: (header & BLOCK_ALLOCATED) != 0,
		}
		report.Blocks = append(report.Blocks, blk)
		if blk.Allocated {
			report.AllocatedBlocks++
			report.AllocatedBytes += size
		} else {
			report.FreeBlocks++
			report.FreeBytes += size
			report.LargestFree = max(report.LargestFree, size)
		}
		report.End = footer + 2
	}

	if report.End != end {
		err = &ErrWalk{Address: report.End, Err: ErrCorrupt}
		return
	}

	return
}

// Check inspects the disk, and also verifies that no two free blocks are
// adjacent. A disk that fails Check is still usable, only fragmented.
func (d *Disk) Check() (report Report, err error) {
	report, err = d.Inspect()
	if err != nil {
		return
	}

	for n := 1; n < len(report.Blocks); n++ {
		prev := report.Blocks[n-1]
		if !prev.Allocated && !report.Blocks[n].Allocated {
			err = &ErrWalk{Address: int(report.Blocks[n].Address) - 2, Err: ErrAdjacentFree}
			return
		}
	}

	return
}

// Allocated returns the allocated blocks of the report.
func (report *Report) Allocated() []Block {
	return slices.DeleteFunc(slices.Clone(report.Blocks), func(blk Block) bool {
		return !blk.Allocated
	})
}

// Print writes a human readable report.
func (report *Report) Print(w io.Writer) (err error) {
	for _, blk := range report.Blocks {
		state := "free"
		if blk.Allocated {
			state = "used"
		}
		_, err = translate.Fprintf(w, "0x%04x %5d %s\n", blk.Address, blk.Size, state)
		if err != nil {
			return
		}
	}

	_, err = translate.Fprintf(w, "%d allocated blocks, %d bytes\n", report.AllocatedBlocks, report.AllocatedBytes)
	if err != nil {
		return
	}

	_, err = translate.Fprintf(w, "%d free blocks, %d bytes, largest %d\n", report.FreeBlocks, report.FreeBytes, report.LargestFree)

	return
}
