package common

import "encoding/binary"

func Uint32ToBytes(val uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, val)
}
