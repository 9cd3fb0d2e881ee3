// Package store models the persistent byte addressable storage (the EEPROM)
// that backs the disk allocator and the program memory of every process.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"maps"
	"os"
)

const (
	DEFAULT_SIZE = 1024    // ATmega328p EEPROM size.
	MAX_SIZE     = 0x10000 // Addresses are 16 bits wide.
)

// Store is a fixed size array of bytes. Addresses outside of the store read
// as zero and writes to them are dropped.
type Store struct {
	Data   []byte
	Writes int // Count of bytes that actually changed.
}

// New creates a zero filled store of size bytes.
func New(size int) (st *Store, err error) {
	if size <= 0 || size > MAX_SIZE {
		err = fmt.Errorf("%w: %d", ErrSize, size)
		return
	}

	st = &Store{Data: make([]byte, size)}
	return
}

// Defines returns an iter of assembler defines for the store.
func (st *Store) Defines() iter.Seq2[string, string] {
	return maps.All(map[string]string{
		"STORE_SIZE": fmt.Sprintf("%d", st.Size()),
	})
}

// Size returns the number of addressable bytes.
func (st *Store) Size() int {
	return len(st.Data)
}

// LoadByte loads a single byte from the address and returns it.
func (st *Store) LoadByte(addr uint16) byte {
	if int(addr) >= len(st.Data) {
		return 0
	}
	return st.Data[addr]
}

// StoreByte stores a byte to the address. Unchanged bytes are not
// rewritten, matching the EEPROM driver which avoids needless wear.
func (st *Store) StoreByte(addr uint16, value byte) {
	if int(addr) >= len(st.Data) {
		return
	}
	if st.Data[addr] == value {
		return
	}
	st.Data[addr] = value
	st.Writes++
}

// LoadWord loads a little endian word.
func (st *Store) LoadWord(addr uint16) uint16 {
	return uint16(st.LoadByte(addr)) | uint16(st.LoadByte(addr+1))<<8
}

// StoreWord stores a little endian word.
func (st *Store) StoreWord(addr uint16, value uint16) {
	st.StoreByte(addr, uint8(value&0xff))
	st.StoreByte(addr+1, uint8(value>>8))
}

// LoadBytes fills buf starting at addr.
func (st *Store) LoadBytes(addr uint16, buf []byte) {
	for n := range buf {
		buf[n] = st.LoadByte(addr + uint16(n))
	}
}

// StoreBytes writes buf starting at addr.
func (st *Store) StoreBytes(addr uint16, buf []byte) {
	for n, value := range buf {
		st.StoreByte(addr+uint16(n), value)
	}
}

// Unmarshal loads a store image. Short images leave the tail zeroed.
func (st *Store) Unmarshal(r io.Reader) (err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return
	}

	if len(data) > len(st.Data) {
		err = fmt.Errorf("%w: %d > %d", ErrImageSize, len(data), len(st.Data))
		return
	}

	clear(st.Data)
	copy(st.Data, data)

	return
}

// Marshal writes the entire store image.
func (st *Store) Marshal(w io.Writer) (err error) {
	_, err = w.Write(st.Data)
	return
}

// Load reads the store image from a host file. A missing file is not an
// error; the store is simply left as it is.
func (st *Store) Load(path string) (err error) {
	inf, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
		return
	}
	defer inf.Close()

	err = st.Unmarshal(inf)
	return
}

// Save writes the store image to a host file.
func (st *Store) Save(path string) (err error) {
	ouf, err := os.Create(path)
	if err != nil {
		return
	}

	err = st.Marshal(ouf)
	if err != nil {
		ouf.Close()
		return
	}

	err = ouf.Close()
	return
}

// Dump writes a hex dump, 16 bytes per row.
func (st *Store) Dump(w io.Writer) (err error) {
	out := bufio.NewWriter(w)

	for row := 0; row < len(st.Data); row += 16 {
		fmt.Fprintf(out, "%04x ", row)
		end := min(row+16, len(st.Data))
		for _, value := range st.Data[row:end] {
			fmt.Fprintf(out, " %02x", value)
		}
		fmt.Fprintf(out, "  |")
		for _, value := range st.Data[row:end] {
			if value >= ' ' && value <= '~' {
				out.WriteByte(value)
			} else {
				out.WriteByte('.')
			}
		}
		fmt.Fprintf(out, "|\n")
	}

	err = out.Flush()
	return
}
