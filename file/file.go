// Package file implements a flat file table on top of the disk allocator.
//
// Every file is a single allocated block. The payload holds a name length
// byte, the name, a little endian size word and then the data. Blocks whose
// first byte is zero are not files, and are skipped by every scan.
package file

import (
	"fmt"
	"iter"
	"log"
	"maps"
	"strings"

	"github.com/goldos/goldos/disk"
)

const (
	DEFAULT_CAPACITY = 8   // Open file slots.
	NAME_LIMIT       = 127 // Name length byte has a reserved top bit.
	SIZE_LIMIT       = 0xffff
)

// Mode selects how an opened file is positioned. MODE_READ keeps the
// stored size with the cursor at 0, MODE_WRITE truncates to size 0 and
// MODE_APPEND puts the cursor at the stored size.
type Mode uint8

//go:generate go tool stringer -linecomment -type=Mode
const (
	MODE_READ   = Mode(0) // read
	MODE_WRITE  = Mode(1) // write
	MODE_APPEND = Mode(2) // append
)

// File is an open file slot. A zero Address marks the slot free.
type File struct {
	Address  uint16 // Block payload address.
	NameSize uint8
	Size     uint16
	Position uint16
}

func (fl *File) sizeAddress() uint16 {
	return fl.Address + 1 + uint16(fl.NameSize)
}

func (fl *File) dataAddress() uint16 {
	return fl.sizeAddress() + 2
}

// Info describes a file entry on the disk.
type Info struct {
	Name     string
	Address  uint16 // Block payload address.
	Size     uint16
	Capacity int // Data bytes that fit without moving the entry.
}

// Table is the open file table.
type Table struct {
	Verbose bool
	Disk    *disk.Disk
	Files   []File
}

// NewTable creates a file table over a disk, with capacity open slots.
func NewTable(d *disk.Disk, capacity int) (tbl *Table) {
	if capacity <= 0 {
		capacity = DEFAULT_CAPACITY
	}

	tbl = &Table{
		Disk:  d,
		Files: make([]File, capacity),
	}

	return
}

// Defines returns an iter of assembler defines for the file table.
func (tbl *Table) Defines() iter.Seq2[string, string] {
	return maps.All(map[string]string{
		"MODE_READ":   fmt.Sprintf("%d", MODE_READ),
		"MODE_WRITE":  fmt.Sprintf("%d", MODE_WRITE),
		"MODE_APPEND": fmt.Sprintf("%d", MODE_APPEND),
		"FILE_SIZE":   fmt.Sprintf("%d", len(tbl.Files)),
	})
}

// entries walks all file entries on the disk.
func (tbl *Table) entries() iter.Seq[Info] {
	return func(yield func(info Info) bool) {
		st := tbl.Disk.Store
		for blk := range tbl.Disk.Blocks() {
			if !blk.Allocated {
				continue
			}
			name_size := st.LoadByte(blk.Address)
			if name_size == 0 || int(name_size)+1+2 > int(blk.Size) {
				continue
			}
			name := make([]byte, name_size)
			st.LoadBytes(blk.Address+1, name)
			info := Info{
				Name:     string(name),
				Address:  blk.Address,
				Size:     st.LoadWord(blk.Address + 1 + uint16(name_size)),
				Capacity: int(blk.Size) - 1 - int(name_size) - 2,
			}
			if !yield(info) {
				return
			}
		}
	}
}

func validName(name string) bool {
	return len(name) > 0 && len(name) <= NAME_LIMIT && !strings.ContainsRune(name, 0)
}

// Stat finds a file entry by name.
func (tbl *Table) Stat(name string) (info Info, err error) {
	for entry := range tbl.entries() {
		if entry.Name == name {
			info = entry
			return
		}
	}

	err = &ErrFile{Name: name, Err: ErrNotFound}
	return
}

// List returns a restartable iterator of every file name and size.
func (tbl *Table) List() iter.Seq2[string, uint16] {
	return func(yield func(name string, size uint16) bool) {
		for info := range tbl.entries() {
			if !yield(info.Name, info.Size) {
				return
			}
		}
	}
}

func (tbl *Table) freeSlot() (h int8, err error) {
	for n, fl := range tbl.Files {
		if fl.Address == 0 {
			h = int8(n)
			return
		}
	}

	h = -1
	err = ErrTableFull
	return
}

// Open opens, or for writing creates, the named file. The handle is the
// lowest free slot of the table.
func (tbl *Table) Open(name string, mode Mode) (h int8, err error) {
	h = -1

	if mode > MODE_APPEND {
		err = &ErrFile{Name: name, Err: ErrMode}
		return
	}

	if !validName(name) {
		err = &ErrFile{Name: name, Err: ErrNameInvalid}
		return
	}

	slot, err := tbl.freeSlot()
	if err != nil {
		err = &ErrFile{Name: name, Err: err}
		return
	}

	st := tbl.Disk.Store
	fl := File{NameSize: uint8(len(name))}

	info, err := tbl.Stat(name)
	switch {
	case err == nil:
		fl.Address = info.Address
		fl.Size = info.Size
	case mode == MODE_READ:
		return
	default:
		var request uint16
		request, err = entrySize(len(name), 0)
		if err != nil {
			err = &ErrFile{Name: name, Err: err}
			return
		}
		addr, ok := tbl.Disk.Alloc(request)
		if !ok {
			err = &ErrFile{Name: name, Err: ErrDiskFull}
			return
		}
		fl.Address = addr
		st.StoreByte(addr, fl.NameSize)
		st.StoreBytes(addr+1, []byte(name))
		st.StoreWord(fl.sizeAddress(), 0)
	}

	switch mode {
	case MODE_WRITE:
		fl.Size = 0
		st.StoreWord(fl.sizeAddress(), 0)
		for n := range tbl.Files {
			if tbl.Files[n].Address == fl.Address {
				tbl.Files[n].Size = 0
				tbl.Files[n].Position = 0
			}
		}
	case MODE_APPEND:
		fl.Position = fl.Size
	}

	tbl.Files[slot] = fl
	h = slot

	if tbl.Verbose {
		log.Printf("file: open %q %v as %d, block 0x%04x size %d", name, mode, h, fl.Address, fl.Size)
	}

	return
}

// entrySize returns the block request for an entry of size data bytes,
// or ErrTooLarge when no block can hold it.
func entrySize(name_size int, size int) (request uint16, err error) {
	total := 1 + name_size + 2 + size
	if disk.Align(total) > disk.BLOCK_SIZE_MASK {
		err = fmt.Errorf("%w: %d", ErrTooLarge, size)
		return
	}

	request = uint16(total)
	return
}

func (tbl *Table) file(h int8) (fl *File, err error) {
	if h < 0 || int(h) >= len(tbl.Files) || tbl.Files[h].Address == 0 {
		err = fmt.Errorf("%w: %d", ErrHandle, h)
		return
	}

	fl = &tbl.Files[h]
	return
}

// Name returns the name of the open file.
func (tbl *Table) Name(h int8) (name string, err error) {
	fl, err := tbl.file(h)
	if err != nil {
		return
	}

	buf := make([]byte, fl.NameSize)
	tbl.Disk.Store.LoadBytes(fl.Address+1, buf)
	name = string(buf)
	return
}

// Size returns the stored size of the open file.
func (tbl *Table) Size(h int8) (size uint16, err error) {
	fl, err := tbl.file(h)
	if err != nil {
		return
	}

	size = fl.Size
	return
}

// Position returns the read/write cursor of the open file.
func (tbl *Table) Position(h int8) (pos uint16, err error) {
	fl, err := tbl.file(h)
	if err != nil {
		return
	}

	pos = fl.Position
	return
}

// DataAddress returns the store address of the first data byte.
func (tbl *Table) DataAddress(h int8) (addr uint16, err error) {
	fl, err := tbl.file(h)
	if err != nil {
		return
	}

	addr = fl.dataAddress()
	return
}

// Seek moves the cursor. Positions past the end are allowed, a following
// write fills the gap with zeros.
func (tbl *Table) Seek(h int8, pos int) (err error) {
	fl, err := tbl.file(h)
	if err != nil {
		return
	}

	if pos < 0 || pos > SIZE_LIMIT {
		err = fmt.Errorf("%w: %d", ErrSeek, pos)
		return
	}

	fl.Position = uint16(pos)
	return
}

// Read reads up to len(buf) bytes at the cursor. At the end of the file it
// returns 0 and no error.
func (tbl *Table) Read(h int8, buf []byte) (n int, err error) {
	fl, err := tbl.file(h)
	if err != nil {
		return
	}

	if fl.Position >= fl.Size {
		return
	}

	n = min(len(buf), int(fl.Size-fl.Position))
	tbl.Disk.Store.LoadBytes(fl.dataAddress()+fl.Position, buf[:n])
	fl.Position += uint16(n)

	return
}

// moved points every open slot on the block at from to the block at to.
func (tbl *Table) moved(from, to uint16, name_size uint8, size uint16) {
	for n := range tbl.Files {
		fl := &tbl.Files[n]
		if fl.Address != from {
			continue
		}
		fl.Address = to
		fl.NameSize = name_size
		fl.Size = size
	}
}

// Write writes buf at the cursor. If the entry no longer fits in its block
// it is copied to a larger one and the old block is freed. The stored size
// becomes max(size, cursor+len(buf)).
func (tbl *Table) Write(h int8, buf []byte) (n int, err error) {
	fl, err := tbl.file(h)
	if err != nil {
		return
	}

	end := int(fl.Position) + len(buf)
	if end > SIZE_LIMIT {
		err = fmt.Errorf("%w: %d", ErrTooLarge, end)
		return
	}
	size := max(int(fl.Size), end)

	st := tbl.Disk.Store
	block_size, _ := tbl.Disk.BlockSize(fl.Address)
	if size > block_size-1-int(fl.NameSize)-2 {
		var request uint16
		request, err = entrySize(int(fl.NameSize), size)
		if err != nil {
			return
		}
		addr, ok := tbl.Disk.Alloc(request)
		if !ok {
			err = ErrDiskFull
			return
		}

		entry := make([]byte, 1+int(fl.NameSize)+2+int(fl.Size))
		st.LoadBytes(fl.Address, entry)
		st.StoreBytes(addr, entry)
		tbl.Disk.Free(fl.Address)

		if tbl.Verbose {
			log.Printf("file: %d moved from 0x%04x to 0x%04x", h, fl.Address, addr)
		}

		tbl.moved(fl.Address, addr, fl.NameSize, fl.Size)
	}

	if fl.Position > fl.Size {
		st.StoreBytes(fl.dataAddress()+fl.Size, make([]byte, fl.Position-fl.Size))
	}

	st.StoreBytes(fl.dataAddress()+fl.Position, buf)
	fl.Position += uint16(len(buf))

	for n := range tbl.Files {
		if tbl.Files[n].Address == fl.Address {
			tbl.Files[n].Size = uint16(size)
		}
	}
	st.StoreWord(fl.sizeAddress(), uint16(size))

	n = len(buf)
	return
}

// WriteString writes a string, without any terminator.
func (tbl *Table) WriteString(h int8, s string) (n int, err error) {
	return tbl.Write(h, []byte(s))
}

// Truncate resizes the open file, resizing its block to fit. New bytes
// read as zero.
func (tbl *Table) Truncate(h int8, size int) (err error) {
	fl, err := tbl.file(h)
	if err != nil {
		return
	}

	if size < 0 || size > SIZE_LIMIT {
		err = fmt.Errorf("%w: %d", ErrTooLarge, size)
		return
	}

	request, err := entrySize(int(fl.NameSize), size)
	if err != nil {
		return
	}

	st := tbl.Disk.Store
	old := fl.Address
	old_size := fl.Size
	addr, ok := tbl.Disk.Realloc(old, request)
	if !ok {
		err = ErrDiskFull
		return
	}

	tbl.moved(old, addr, fl.NameSize, uint16(size))
	for n := range tbl.Files {
		if tbl.Files[n].Address == addr {
			tbl.Files[n].Position = min(tbl.Files[n].Position, uint16(size))
		}
	}
	if size > int(old_size) {
		st.StoreBytes(fl.dataAddress()+old_size, make([]byte, size-int(old_size)))
	}
	st.StoreWord(fl.sizeAddress(), uint16(size))

	return
}

// Close releases the slot.
func (tbl *Table) Close(h int8) (err error) {
	fl, err := tbl.file(h)
	if err != nil {
		return
	}

	*fl = File{}
	return
}

// Delete frees the named file. Open slots on it are closed.
func (tbl *Table) Delete(name string) (err error) {
	info, err := tbl.Stat(name)
	if err != nil {
		return
	}

	tbl.Disk.Free(info.Address)
	for n := range tbl.Files {
		if tbl.Files[n].Address == info.Address {
			tbl.Files[n] = File{}
		}
	}

	if tbl.Verbose {
		log.Printf("file: delete %q at 0x%04x", name, info.Address)
	}

	return
}

// Rename copies the file to a new entry with the new name, and frees the
// old entry. Open slots follow the file.
func (tbl *Table) Rename(old_name string, new_name string) (err error) {
	if !validName(new_name) {
		err = &ErrFile{Name: new_name, Err: ErrNameInvalid}
		return
	}

	info, err := tbl.Stat(old_name)
	if err != nil {
		return
	}

	if old_name == new_name {
		return
	}

	if _, err = tbl.Stat(new_name); err == nil {
		err = &ErrFile{Name: new_name, Err: ErrExists}
		return
	}
	err = nil

	name_size := len(new_name)
	request, err := entrySize(name_size, int(info.Size))
	if err != nil {
		err = &ErrFile{Name: new_name, Err: err}
		return
	}
	addr, ok := tbl.Disk.Alloc(request)
	if !ok {
		err = &ErrFile{Name: new_name, Err: ErrDiskFull}
		return
	}

	st := tbl.Disk.Store
	data := make([]byte, info.Size)
	st.LoadBytes(info.Address+1+uint16(len(info.Name))+2, data)

	st.StoreByte(addr, uint8(name_size))
	st.StoreBytes(addr+1, []byte(new_name))
	st.StoreWord(addr+1+uint16(name_size), info.Size)
	st.StoreBytes(addr+1+uint16(name_size)+2, data)

	tbl.Disk.Free(info.Address)
	tbl.moved(info.Address, addr, uint8(name_size), info.Size)

	if tbl.Verbose {
		log.Printf("file: rename %q to %q at 0x%04x", old_name, new_name, addr)
	}

	return
}

// Handles returns an iterator over the open handles.
func (tbl *Table) Handles() iter.Seq2[int8, File] {
	return func(yield func(h int8, fl File) bool) {
		for n, fl := range tbl.Files {
			if fl.Address == 0 {
				continue
			}
			if !yield(int8(n), fl) {
				return
			}
		}
	}
}
