// Package disk implements the block allocator that manages the byte store.
//
// The store starts with a small signature header. The rest of the store is
// tiled by blocks, each one a little endian header word, a payload and a
// footer word identical to the header. The top bit of the header marks the
// block as allocated, the low 15 bits hold the payload size.
package disk

import (
	"fmt"
	"iter"
	"log"
	"maps"

	"github.com/goldos/goldos/store"
)

const (
	BLOCK_ALIGN     = 8           // Payload sizes are rounded up to this.
	HEADER_SIZE     = BLOCK_ALIGN // First block header offset.
	BLOCK_ALLOCATED = 0x8000      // Header flag for an allocated block.
	BLOCK_SIZE_MASK = 0x7fff      // Header mask of the payload size.
	BLOCK_OVERHEAD  = 2 + 2       // Header and footer words.

	VERSION_MAJOR = 1
	VERSION_MINOR = 0
)

// SIGNATURE is written at offset 0, followed by the version byte.
const SIGNATURE = "GFS"

// Version is the on disk version byte.
const Version = uint8(VERSION_MAJOR<<4 | VERSION_MINOR)

// Block describes a single block found while walking the disk.
type Block struct {
	Address   uint16 // Payload address.
	Size      uint16 // Payload size.
	Allocated bool
}

// Disk is the allocator state. All state lives in the store itself.
type Disk struct {
	Verbose bool
	Store   *store.Store
}

// New creates an allocator over a store.
func New(st *store.Store) (d *Disk) {
	d = &Disk{
		Store: st,
	}

	return
}

// Defines returns an iter of assembler defines for the disk.
func (d *Disk) Defines() iter.Seq2[string, string] {
	return maps.All(map[string]string{
		"BLOCK_ALIGN": fmt.Sprintf("%d", BLOCK_ALIGN),
		"HEADER_SIZE": fmt.Sprintf("%d", HEADER_SIZE),
	})
}

// Align rounds a requested size up to the block alignment. Zero sized
// requests allocate a single aligned unit.
func Align(size int) int {
	if size == 0 {
		size = 1
	}
	return (size + BLOCK_ALIGN - 1) / BLOCK_ALIGN * BLOCK_ALIGN
}

func (d *Disk) end() int {
	return d.Store.Size()
}

func (d *Disk) header(pos int) uint16 {
	return d.Store.LoadWord(uint16(pos))
}

// mark writes the matching header and footer of the block at pos.
func (d *Disk) mark(pos int, size int, allocated bool) {
	word := uint16(size & BLOCK_SIZE_MASK)
	if allocated {
		word |= BLOCK_ALLOCATED
	}
	d.Store.StoreWord(uint16(pos), word)
	d.Store.StoreWord(uint16(pos+2+size), word)
}

// Format writes the signature and a single free block spanning the store.
func (d *Disk) Format() (err error) {
	size := d.end() - HEADER_SIZE - BLOCK_OVERHEAD
	if size < BLOCK_ALIGN || size > BLOCK_SIZE_MASK {
		err = fmt.Errorf("%w: %d", ErrStoreSize, d.end())
		return
	}

	for n := range HEADER_SIZE {
		var value byte
		switch {
		case n < len(SIGNATURE):
			value = SIGNATURE[n]
		case n == len(SIGNATURE):
			value = Version
		}
		d.Store.StoreByte(uint16(n), value)
	}

	d.mark(HEADER_SIZE, size, false)

	if d.Verbose {
		log.Printf("disk: format %d bytes, %d free", d.end(), size)
	}

	return
}

// Formatted returns true if the disk carries the signature and version.
func (d *Disk) Formatted() bool {
	for n := range len(SIGNATURE) {
		if d.Store.LoadByte(uint16(n)) != SIGNATURE[n] {
			return false
		}
	}
	return d.Store.LoadByte(uint16(len(SIGNATURE))) == Version
}

// walk yields the header address and header word of every block, in
// address order. It stops when the next header would not fit in the store.
func (d *Disk) walk() iter.Seq2[int, uint16] {
	return func(yield func(pos int, header uint16) bool) {
		end := d.end()
		for pos := HEADER_SIZE; pos+BLOCK_OVERHEAD <= end; {
			header := d.header(pos)
			if !yield(pos, header) {
				return
			}
			pos += BLOCK_OVERHEAD + int(header&BLOCK_SIZE_MASK)
		}
	}
}

// Blocks returns an iterator over all blocks of the disk.
func (d *Disk) Blocks() iter.Seq[Block] {
	return func(yield func(blk Block) bool) {
		for pos, header := range d.walk() {
			blk := Block{
				Address:   uint16(pos + 2),
				Size:      header & BLOCK_SIZE_MASK,
				Allocated: (header & BLOCK_ALLOCATED) != 0,
			}
			if !yield(blk) {
				return
			}
		}
	}
}

// Alloc allocates the first free block that fits the aligned size. It
// returns the payload address, or ok false when the disk is full.
func (d *Disk) Alloc(request uint16) (addr uint16, ok bool) {
	size := Align(int(request))
	if size > BLOCK_SIZE_MASK {
		return
	}

	for pos, header := range d.walk() {
		if (header & BLOCK_ALLOCATED) != 0 {
			continue
		}
		free := int(header & BLOCK_SIZE_MASK)
		if free != size && free < size+BLOCK_OVERHEAD {
			continue
		}

		d.mark(pos, size, true)
		if free != size {
			d.mark(pos+BLOCK_OVERHEAD+size, free-size-BLOCK_OVERHEAD, false)
		}

		addr = uint16(pos + 2)
		ok = true

		if d.Verbose {
			log.Printf("disk: alloc %d bytes at 0x%04x", size, addr)
		}
		return
	}

	if d.Verbose {
		log.Printf("disk: alloc %d bytes failed", size)
	}

	return
}

// allocated returns the header address and size of the allocated block
// whose payload starts at addr.
func (d *Disk) allocated(addr uint16) (pos int, size int, ok bool) {
	pos = int(addr) - 2
	if addr == 0 || pos < HEADER_SIZE || pos+BLOCK_OVERHEAD > d.end() {
		return
	}

	header := d.header(pos)
	if (header & BLOCK_ALLOCATED) == 0 {
		return
	}

	size = int(header & BLOCK_SIZE_MASK)
	if pos+BLOCK_OVERHEAD+size > d.end() || d.header(pos+2+size) != header {
		return
	}

	ok = true
	return
}

// BlockSize returns the payload size of the allocated block at addr.
func (d *Disk) BlockSize(addr uint16) (size int, ok bool) {
	_, size, ok = d.allocated(addr)
	return
}

// extent computes the free block that results from freeing the block at
// pos, merged with its free neighbours.
func (d *Disk) extent(pos int, size int) (start int, total int) {
	start = pos
	total = size

	if pos-2 >= HEADER_SIZE+2 {
		prev := d.header(pos - 2)
		if (prev & BLOCK_ALLOCATED) == 0 {
			prev_size := int(prev & BLOCK_SIZE_MASK)
			start -= BLOCK_OVERHEAD + prev_size
			total += BLOCK_OVERHEAD + prev_size
		}
	}

	next := pos + BLOCK_OVERHEAD + size
	if next+BLOCK_OVERHEAD <= d.end() {
		header := d.header(next)
		if (header & BLOCK_ALLOCATED) == 0 {
			total += BLOCK_OVERHEAD + int(header&BLOCK_SIZE_MASK)
		}
	}

	return
}

// Free releases the block at addr, coalescing it with free neighbours.
// Freeing address 0, an address that is not an allocated block, or an
// already free block does nothing.
func (d *Disk) Free(addr uint16) {
	pos, size, ok := d.allocated(addr)
	if !ok {
		return
	}

	start, total := d.extent(pos, size)
	d.mark(start, total, false)

	if d.Verbose {
		log.Printf("disk: free 0x%04x, free block 0x%04x of %d bytes", addr, start+2, total)
	}
}

// Realloc resizes the block at addr. The block is released and a new one
// allocated, then min(old, new) bytes are copied over, so the returned
// address may differ. If the new block does not fit, the disk is left
// exactly as it was and ok is false. Realloc of address 0 allocates.
func (d *Disk) Realloc(addr uint16, request uint16) (new_addr uint16, ok bool) {
	if addr == 0 {
		return d.Alloc(request)
	}

	pos, size, ok := d.allocated(addr)
	if !ok {
		return
	}

	if Align(int(request)) == size {
		new_addr = addr
		return
	}

	saved := make([]byte, min(size, Align(int(request))))
	d.Store.LoadBytes(addr, saved)

	// Releasing touches exactly two words; remember them to undo.
	start, total := d.extent(pos, size)
	head := d.header(start)
	foot := d.header(start + 2 + total)
	d.mark(start, total, false)

	new_addr, ok = d.Alloc(request)
	if !ok {
		d.Store.StoreWord(uint16(start), head)
		d.Store.StoreWord(uint16(start+2+total), foot)
		return
	}

	d.Store.StoreBytes(new_addr, saved)

	return
}
