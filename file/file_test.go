package file

import (
	"errors"
	"maps"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/goldos/goldos/disk"
	"github.com/goldos/goldos/store"
)

func newTable(t *testing.T, size int, capacity int) (tbl *Table) {
	st, err := store.New(size)
	if err != nil {
		t.Fatal(err)
	}

	d := disk.New(st)
	err = d.Format()
	if err != nil {
		t.Fatal(err)
	}

	tbl = NewTable(d, capacity)
	return
}

func readAll(t *testing.T, tbl *Table, name string) string {
	h, err := tbl.Open(name, MODE_READ)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close(h)

	var out []byte
	buf := make([]byte, 3)
	for {
		n, err := tbl.Read(h, buf)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}

	return string(out)
}

func TestTable_HelloWorld(t *testing.T) {
	assert := assert.New(t)

	tbl := newTable(t, 256, 0)
	assert.Len(tbl.Files, DEFAULT_CAPACITY)

	h, err := tbl.Open("a.txt", MODE_WRITE)
	assert.NoError(err)
	assert.Equal(int8(0), h)
	n, err := tbl.WriteString(h, "hello")
	assert.NoError(err)
	assert.Equal(5, n)
	assert.NoError(tbl.Close(h))

	h, err = tbl.Open("a.txt", MODE_APPEND)
	assert.NoError(err)
	pos, _ := tbl.Position(h)
	assert.Equal(uint16(5), pos)
	n, err = tbl.WriteString(h, " world")
	assert.NoError(err)
	assert.Equal(6, n)
	assert.NoError(tbl.Close(h))

	assert.Equal("hello world", readAll(t, tbl, "a.txt"))

	info, err := tbl.Stat("a.txt")
	assert.NoError(err)
	assert.Equal(uint16(11), info.Size)

	_, err = tbl.Disk.Check()
	assert.NoError(err)
}

func TestTable_Growth(t *testing.T) {
	assert := assert.New(t)

	tbl := newTable(t, 512, 0)

	h, _ := tbl.Open("grow", MODE_WRITE)
	last, _ := tbl.DataAddress(h)

	other, err := tbl.Open("grow", MODE_READ)
	assert.NoError(err)

	var want []byte
	moves := 0
	for n := range 20 {
		chunk := []byte{byte('a' + n), byte('A' + n), byte('0' + n%10)}
		_, err := tbl.Write(h, chunk)
		assert.NoError(err)
		want = append(want, chunk...)

		addr, _ := tbl.DataAddress(h)
		if addr != last {
			moves++
			last = addr
		}
	}
	assert.Greater(moves, 1)

	// Both handles follow the entry.
	moved, _ := tbl.DataAddress(other)
	assert.Equal(last, moved)
	size, _ := tbl.Size(other)
	assert.Equal(uint16(len(want)), size)

	buf := make([]byte, 100)
	n, err := tbl.Read(other, buf)
	assert.NoError(err)
	assert.Equal(want, buf[:n])

	n, err = tbl.Read(other, buf)
	assert.NoError(err)
	assert.Equal(0, n)

	report, err := tbl.Disk.Check()
	assert.NoError(err)
	assert.Equal(1, report.AllocatedBlocks)
}

func TestTable_Open(t *testing.T) {
	assert := assert.New(t)

	tbl := newTable(t, 256, 2)

	_, err := tbl.Open("missing", MODE_READ)
	assert.ErrorIs(err, ErrNotFound)

	var ferr *ErrFile
	assert.True(errors.As(err, &ferr))
	assert.Equal("missing", ferr.Name)

	_, err = tbl.Open("", MODE_WRITE)
	assert.ErrorIs(err, ErrNameInvalid)

	_, err = tbl.Open(string(make([]byte, NAME_LIMIT+1)), MODE_WRITE)
	assert.ErrorIs(err, ErrNameInvalid)

	_, err = tbl.Open("x", Mode(3))
	assert.ErrorIs(err, ErrMode)

	a, err := tbl.Open("a", MODE_WRITE)
	assert.NoError(err)
	b, err := tbl.Open("b", MODE_APPEND)
	assert.NoError(err)
	assert.Equal([]int8{0, 1}, []int8{a, b})

	_, err = tbl.Open("a", MODE_READ)
	assert.ErrorIs(err, ErrTableFull)

	// Freed slots are reused lowest first.
	assert.NoError(tbl.Close(a))
	c, err := tbl.Open("b", MODE_READ)
	assert.NoError(err)
	assert.Equal(int8(0), c)

	assert.ErrorIs(tbl.Close(a+5), ErrHandle)
	assert.ErrorIs(tbl.Close(-1), ErrHandle)
}

func TestTable_Truncating(t *testing.T) {
	assert := assert.New(t)

	tbl := newTable(t, 256, 0)

	h, _ := tbl.Open("t", MODE_WRITE)
	tbl.WriteString(h, "something")
	tbl.Close(h)

	h, _ = tbl.Open("t", MODE_WRITE)
	size, _ := tbl.Size(h)
	assert.Equal(uint16(0), size)
	tbl.Close(h)

	info, _ := tbl.Stat("t")
	assert.Equal(uint16(0), info.Size)
	assert.Equal("", readAll(t, tbl, "t"))
}

func TestTable_Seek(t *testing.T) {
	assert := assert.New(t)

	tbl := newTable(t, 256, 0)

	h, _ := tbl.Open("s", MODE_WRITE)
	tbl.WriteString(h, "abcdef")

	// Overwrite keeps the size.
	assert.NoError(tbl.Seek(h, 1))
	tbl.WriteString(h, "XY")
	size, _ := tbl.Size(h)
	assert.Equal(uint16(6), size)
	pos, _ := tbl.Position(h)
	assert.Equal(uint16(3), pos)

	// Writing past the end fills with zeros.
	assert.NoError(tbl.Seek(h, 8))
	tbl.WriteString(h, "z")
	size, _ = tbl.Size(h)
	assert.Equal(uint16(9), size)

	assert.ErrorIs(tbl.Seek(h, -1), ErrSeek)
	tbl.Close(h)

	assert.Equal("aXYdef\x00\x00z", readAll(t, tbl, "s"))
}

func TestTable_Truncate(t *testing.T) {
	assert := assert.New(t)

	tbl := newTable(t, 256, 0)

	h, _ := tbl.Open("t", MODE_WRITE)
	tbl.WriteString(h, "0123456789")

	assert.NoError(tbl.Truncate(h, 4))
	pos, _ := tbl.Position(h)
	assert.Equal(uint16(4), pos)
	assert.NoError(tbl.Truncate(h, 40))
	tbl.Close(h)

	info, err := tbl.Stat("t")
	assert.NoError(err)
	assert.Equal(uint16(40), info.Size)
	assert.GreaterOrEqual(info.Capacity, 40)

	got := readAll(t, tbl, "t")
	assert.Equal("0123"+string(make([]byte, 36)), got)

	h, _ = tbl.Open("t", MODE_READ)
	assert.ErrorIs(tbl.Truncate(h, 1000), ErrDiskFull)

	_, err = tbl.Disk.Check()
	assert.NoError(err)
}

func TestTable_RenameDelete(t *testing.T) {
	assert := assert.New(t)

	tbl := newTable(t, 512, 0)

	for _, name := range []string{"one", "two", "three"} {
		h, _ := tbl.Open(name, MODE_WRITE)
		tbl.WriteString(h, name)
		tbl.Close(h)
	}

	files := maps.Collect(tbl.List())
	assert.Equal(map[string]uint16{"one": 3, "two": 3, "three": 5}, files)

	h, _ := tbl.Open("two", MODE_READ)

	assert.ErrorIs(tbl.Rename("two", "one"), ErrExists)
	assert.ErrorIs(tbl.Rename("four", "five"), ErrNotFound)
	assert.ErrorIs(tbl.Rename("two", ""), ErrNameInvalid)
	assert.NoError(tbl.Rename("two", "deux"))

	name, err := tbl.Name(h)
	assert.NoError(err)
	assert.Equal("deux", name)
	assert.Equal("two", readAll(t, tbl, "deux"))

	_, err = tbl.Stat("two")
	assert.ErrorIs(err, ErrNotFound)

	assert.NoError(tbl.Delete("deux"))
	assert.ErrorIs(tbl.Delete("deux"), ErrNotFound)

	// Deleting closes the open handle.
	_, err = tbl.Name(h)
	assert.ErrorIs(err, ErrHandle)

	files = maps.Collect(tbl.List())
	assert.Equal(map[string]uint16{"one": 3, "three": 5}, files)

	// List is restartable and stops early.
	count := 0
	for range tbl.List() {
		count++
		break
	}
	assert.Equal(1, count)

	_, err = tbl.Disk.Check()
	assert.NoError(err)
}

func TestTable_RawBlocks(t *testing.T) {
	assert := assert.New(t)

	tbl := newTable(t, 256, 0)

	// A raw allocation starting with a zero byte is not a file.
	raw, ok := tbl.Disk.Alloc(16)
	assert.True(ok)
	tbl.Disk.Store.StoreByte(raw, 0)

	h, _ := tbl.Open("f", MODE_WRITE)
	tbl.Close(h)

	files := maps.Collect(tbl.List())
	assert.Equal(map[string]uint16{"f": 0}, files)

	_, err := tbl.Open("", MODE_READ)
	assert.ErrorIs(err, ErrNameInvalid)
}

func TestTable_DiskFull(t *testing.T) {
	assert := assert.New(t)

	tbl := newTable(t, 64, 0)

	h, err := tbl.Open("big", MODE_WRITE)
	assert.NoError(err)

	_, err = tbl.Write(h, make([]byte, 100))
	assert.ErrorIs(err, ErrDiskFull)

	size, _ := tbl.Size(h)
	assert.Equal(uint16(0), size)

	_, err = tbl.Disk.Check()
	assert.NoError(err)
}

func TestEntrySize(t *testing.T) {
	assert := assert.New(t)

	table := [...]struct {
		name_size int
		size      int
		request   uint16
		err       error
	}{
		{1, 0, 4, nil},
		{5, 11, 19, nil},
		{1, 0x7fe4, 0x7fe8, nil},
		{1, 0x7ff4, 0x7ff8, nil},
		{1, 0x7ff5, 0, ErrTooLarge},
		{NAME_LIMIT, 0x7fe4, 0, ErrTooLarge},
		{5, 0xffff, 0, ErrTooLarge},
		{1, 0xfffc, 0, ErrTooLarge},
	}

	for n, entry := range table {
		request, err := entrySize(entry.name_size, entry.size)
		if entry.err != nil {
			assert.ErrorIs(err, entry.err, "%d", n)
			continue
		}
		assert.NoError(err, "%d", n)
		assert.Equal(entry.request, request, "%d", n)
	}
}

func TestTable_TooLarge(t *testing.T) {
	assert := assert.New(t)

	tbl := newTable(t, 1024, 0)

	h, err := tbl.Open("a.txt", MODE_WRITE)
	if !assert.NoError(err) {
		return
	}

	n, err := tbl.Write(h, make([]byte, 0xffff))
	assert.ErrorIs(err, ErrTooLarge)
	assert.Equal(0, n)
	size, _ := tbl.Size(h)
	assert.Equal(uint16(0), size)

	assert.ErrorIs(tbl.Truncate(h, 0xfffc), ErrTooLarge)
	size, _ = tbl.Size(h)
	assert.Equal(uint16(0), size)

	assert.True(tbl.Disk.Formatted())
	_, err = tbl.Disk.Check()
	assert.NoError(err)

	_, err = tbl.WriteString(h, "still here")
	assert.NoError(err)
	assert.NoError(tbl.Close(h))
	assert.Equal("still here", readAll(t, tbl, "a.txt"))
}

func TestTable_RenameTooLarge(t *testing.T) {
	assert := assert.New(t)

	// Largest store a disk can format.
	tbl := newTable(t, disk.HEADER_SIZE+disk.BLOCK_OVERHEAD+disk.BLOCK_SIZE_MASK, 0)

	h, err := tbl.Open("a", MODE_WRITE)
	if !assert.NoError(err) {
		return
	}
	_, err = tbl.Write(h, make([]byte, 0x7fe4))
	assert.NoError(err)
	assert.NoError(tbl.Close(h))

	long := strings.Repeat("n", NAME_LIMIT)
	err = tbl.Rename("a", long)
	assert.ErrorIs(err, ErrTooLarge)

	info, err := tbl.Stat("a")
	assert.NoError(err)
	assert.Equal(uint16(0x7fe4), info.Size)
	_, err = tbl.Stat(long)
	assert.ErrorIs(err, ErrNotFound)

	_, err = tbl.Disk.Check()
	assert.NoError(err)
}

func TestTable_OpenWriteTruncatesHandles(t *testing.T) {
	assert := assert.New(t)

	tbl := newTable(t, 256, 0)

	h, _ := tbl.Open("log", MODE_WRITE)
	tbl.WriteString(h, "0123456789")
	tbl.Close(h)

	reader, err := tbl.Open("log", MODE_READ)
	assert.NoError(err)
	buf := make([]byte, 4)
	n, _ := tbl.Read(reader, buf)
	assert.Equal(4, n)

	writer, err := tbl.Open("log", MODE_WRITE)
	assert.NoError(err)

	size, _ := tbl.Size(reader)
	assert.Equal(uint16(0), size)
	pos, _ := tbl.Position(reader)
	assert.Equal(uint16(0), pos)
	n, err = tbl.Read(reader, buf)
	assert.NoError(err)
	assert.Equal(0, n)

	tbl.WriteString(writer, "ab")
	n, _ = tbl.Read(reader, buf)
	assert.Equal(2, n)
	assert.Equal("ab", string(buf[:n]))
}

func TestMode_String(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("read", MODE_READ.String())
	assert.Equal("append", MODE_APPEND.String())
	assert.Equal("Mode(7)", Mode(7).String())
}
