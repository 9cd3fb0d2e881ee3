package cpu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVector(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(13, VECTOR_COUNT)
	assert.Equal(uint16(VECTOR_BASE), VectorAddress(SYS_SERIAL_WRITE))
	assert.Equal(uint16(VECTOR_END), VectorAddress(SYS_FILE_CLOSE))

	for index := range VECTOR_COUNT {
		found, ok := VectorIndex(VectorAddress(index))
		assert.True(ok)
		assert.Equal(index, found)
	}

	for _, pc := range []uint16{0, 1, 3, 25, 28, 0x100} {
		_, ok := VectorIndex(pc)
		assert.False(ok, "0x%04x", pc)
	}

	assert.Equal("SYS_FILE_OPEN", VectorName(SYS_FILE_OPEN))

	defines := map[string]string{}
	for key, value := range VectorDefines() {
		defines[key] = value
	}
	assert.Equal(VECTOR_COUNT, len(defines))
	assert.Equal("12", defines["SYS_FILE_OPEN"])
	assert.Equal("26", defines["SYS_FILE_CLOSE"])
}

func TestArguments(t *testing.T) {
	assert := assert.New(t)

	p := NewProcessor(image{}, 0)
	p.SetPair(24, 0x1234)
	p.SetPair(22, 0x5678)
	p.SetPair(20, 0x9abc)

	assert.Equal(uint8(0x34), p.Arg8(0))
	assert.Equal(uint8(0x78), p.Arg8(1))
	assert.Equal(uint16(0x9abc), p.Arg16(2))

	p.Return16(0xfffe)
	assert.Equal(uint8(0xfe), p.R[24])
	assert.Equal(uint8(0xff), p.R[25])

	p.ReturnBool(true)
	assert.Equal(uint8(1), p.R[24])
	p.ReturnBool(false)
	assert.Equal(uint8(0), p.R[24])

	p.Return8(0x42)
	assert.Equal(uint8(0x42), p.R[24])
}

func TestStrings(t *testing.T) {
	assert := assert.New(t)

	bin := append(make(image, 10), []byte("program\x00")...)
	p := NewProcessor(bin, 10)

	p.StoreBytes(RAM_BASE, []byte("data\x00"))
	assert.Equal("data", p.LoadString(RAM_BASE))
	assert.Equal("ata", p.LoadString(RAM_BASE+1))

	buf := make([]byte, 4)
	p.LoadBytes(RAM_BASE, buf)
	assert.Equal([]byte("data"), buf)

	assert.Equal("program", p.LoadProgramString(0))
	assert.Equal("gram", p.LoadProgramString(3))

	// Unterminated strings stop at the limit.
	bin = image(strings.Repeat("x", STRING_LIMIT+10))
	p = NewProcessor(bin, 0)
	assert.Equal(STRING_LIMIT, len(p.LoadProgramString(0)))
}
