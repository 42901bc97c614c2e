package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumEvenLength(t *testing.T) {
	requireT := require.New(t)

	var c Checksum
	c.Update([]byte{0x00, 0x01, 0xF2, 0x03, 0xF4, 0xF5, 0xF6, 0xF7})

	requireT.Equal(uint16(0x220D), c.Finalize())
}

func TestChecksumOddLength(t *testing.T) {
	requireT := require.New(t)

	var withPad Checksum
	withPad.Update([]byte{0x00, 0x01, 0xF2})

	var manual Checksum
	manual.UpdateWord(0x0001)
	manual.UpdateWord(0xF200)

	requireT.Equal(manual.Finalize(), withPad.Finalize())
}

func TestChecksumEmpty(t *testing.T) {
	requireT := require.New(t)

	var c Checksum
	c.Update(nil)

	requireT.Equal(uint16(0xFFFF), c.Finalize())
}

func TestChecksumIncrementalMatchesBulk(t *testing.T) {
	requireT := require.New(t)

	data := []byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC}

	var bulk Checksum
	bulk.Update(data)

	var incremental Checksum
	incremental.Update(data[:2])
	incremental.Update(data[2:4])
	incremental.Update(data[4:])

	requireT.Equal(bulk.Finalize(), incremental.Finalize())
}
