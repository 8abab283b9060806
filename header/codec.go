package header

import "encoding/binary"

var byteOrder = binary.LittleEndian

func putRegion(buf []byte, r Region) {
	byteOrder.PutUint64(buf[0:8], r.Offset)
	byteOrder.PutUint64(buf[8:16], r.Length)
}

func getRegion(buf []byte) Region {
	return Region{
		Offset: byteOrder.Uint64(buf[0:8]),
		Length: byteOrder.Uint64(buf[8:16]),
	}
}
