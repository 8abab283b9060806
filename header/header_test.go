package header

import (
	"path/filepath"
	"testing"

	"github.com/tuckdb/tuckdb/crypt"
	"github.com/tuckdb/tuckdb/fio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHeader(gen uint64) *Header {
	h := &Header{
		Version:     Version,
		Generation:  gen,
		WALCapacity: 4 << 20,
		Schema:      Region{Offset: 4194560, Length: 120},
		Index:       Region{Offset: 4194680, Length: 300},
		Data:        Region{Offset: 4194980, Length: 9000},
		Level:       crypt.LevelMedium,
	}
	for i := range h.Salt {
		h.Salt[i] = byte(i + 1)
	}
	copy(h.KeyCheck[:], []byte{0xde, 0xad, 0xbe, 0xef})
	return h
}

func TestHeaderRoundTrip(t *testing.T) {
	h := sampleHeader(7)
	buf := h.Marshal()
	require.Len(t, buf, Size)

	got, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	buf := sampleHeader(1).Marshal()
	buf[0] = 'X'
	_, err := Unmarshal(buf)
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

func TestUnmarshalRejectsBadChecksum(t *testing.T) {
	buf := sampleHeader(1).Marshal()
	buf[20] ^= 0x01
	_, err := Unmarshal(buf)
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

func TestUnmarshalRejectsShort(t *testing.T) {
	_, err := Unmarshal(make([]byte, Size-1))
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

func TestSelectActive(t *testing.T) {
	a := sampleHeader(3)
	b := sampleHeader(4)

	h, slot := SelectActive(a, b)
	assert.Equal(t, b, h)
	assert.Equal(t, 1, slot)

	h, slot = SelectActive(b, a)
	assert.Equal(t, b, h)
	assert.Equal(t, 0, slot)

	h, slot = SelectActive(nil, a)
	assert.Equal(t, a, h)
	assert.Equal(t, 1, slot)

	h, slot = SelectActive(a, nil)
	assert.Equal(t, a, h)
	assert.Equal(t, 0, slot)

	h, slot = SelectActive(nil, nil)
	assert.Nil(t, h)
	assert.Equal(t, -1, slot)

	// Equal generations keep slot A.
	other := sampleHeader(3)
	h, slot = SelectActive(a, other)
	assert.Equal(t, a, h)
	assert.Equal(t, 0, slot)
}

func TestSlotReadWrite(t *testing.T) {
	ioMgr, err := fio.NewFileIO(filepath.Join(t.TempDir(), "slots.tuck"))
	require.NoError(t, err)
	defer ioMgr.Close()

	a := sampleHeader(1)
	b := sampleHeader(2)
	require.NoError(t, WriteSlot(ioMgr, 0, a))
	require.NoError(t, WriteSlot(ioMgr, 1, b))

	gotA, err := ReadSlot(ioMgr, 0)
	require.NoError(t, err)
	assert.Equal(t, a, gotA)

	gotB, err := ReadSlot(ioMgr, 1)
	require.NoError(t, err)
	assert.Equal(t, b, gotB)

	active, slot := SelectActive(gotA, gotB)
	assert.Equal(t, uint64(2), active.Generation)
	assert.Equal(t, 1, slot)
}

func TestReadSlotShortFile(t *testing.T) {
	ioMgr, err := fio.NewFileIO(filepath.Join(t.TempDir(), "short.tuck"))
	require.NoError(t, err)
	defer ioMgr.Close()

	_, err = ReadSlot(ioMgr, 0)
	assert.ErrorIs(t, err, ErrShortFile)
}
