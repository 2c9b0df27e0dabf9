package dataset

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Byte sizes of the fixed-shape slot entries.
const (
	pointBytes = 4 * 4
	poseBytes  = 6 * 4
	boxBytes   = 8 * 4
)

// EncodeCloud writes cloud as little-endian float32 quadruples.
func EncodeCloud(cloud [][4]float32) []byte {
	buf := make([]byte, len(cloud)*pointBytes)
	off := 0
	for _, p := range cloud {
		for _, v := range p {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}
	return buf
}

// DecodeCloud reads little-endian float32 quadruples.
func DecodeCloud(buf []byte) ([][4]float32, error) {
	if len(buf)%pointBytes != 0 {
		return nil, fmt.Errorf("cloud blob of %d bytes is not a whole number of points", len(buf))
	}
	out := make([][4]float32, len(buf)/pointBytes)
	off := 0
	for i := range out {
		for j := 0; j < 4; j++ {
			out[i][j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		}
	}
	return out, nil
}

func putFloats(buf []byte, vals []float32) {
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}

func getFloats(buf []byte, vals []float32) {
	for i := range vals {
		vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
}
