package rawqueue

import "encoding/binary"

// Int64Codec is the ElementCodec for int64 buffer elements, the type
// BriefKAsten's examples use throughout. Grounded on the
// binary.LittleEndian.AppendUint64/Uint64 idiom.
type Int64Codec struct{}

func (Int64Codec) Size() int { return 8 }

func (Int64Codec) Encode(buf []int64) []byte {
	out := make([]byte, 0, len(buf)*8)
	for _, v := range buf {
		out = binary.LittleEndian.AppendUint64(out, uint64(v))
	}
	return out
}

func (Int64Codec) Decode(data []byte) []int64 {
	out := make([]int64, len(data)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(data[i*8 : i*8+8]))
	}
	return out
}

// ByteCodec is the identity ElementCodec for byte elements: no
// conversion is needed because E already is the wire type.
type ByteCodec struct{}

func (ByteCodec) Size() int                { return 1 }
func (ByteCodec) Encode(buf []byte) []byte { return buf }
func (ByteCodec) Decode(data []byte) []byte {
	return data
}
