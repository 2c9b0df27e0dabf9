package visualiser

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarfusion/internal/lidar/bbox"
	"github.com/banshee-data/lidarfusion/internal/lidar/fusion"
)

// frameMagic opens every encoded frame.
var frameMagic = [4]byte{'L', 'F', 'F', '1'}

// ErrBadFrame is returned when decoding a malformed frame.
var ErrBadFrame = errors.New("malformed frame")

const frameHeaderBytes = 4 + 8 + 8 + 4 + 4 + 4 + 4

// EncodeSnapshot packs s into a little-endian float32 frame, keeping every
// stride-th point. Stride below 1 keeps every point.
//
// Layout: magic, version u64, tick u64, missing u32, points u32, sources u32,
// boxes u32; points as (x, y, z, intensity) f32; sources as (agent i32,
// offset u32, count u32); boxes as agent i32, 8 box f32, 16×3 wireframe f32.
// Source offsets and counts refer to the undecimated frame.
func EncodeSnapshot(s *Snapshot, stride int) []byte {
	if stride < 1 {
		stride = 1
	}
	n := s.Frame.Len()
	kept := (n + stride - 1) / stride

	ids := make([]int, 0, len(s.Boxes))
	for id := range s.Boxes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	size := frameHeaderBytes + kept*16 + len(s.Frame.Sources)*12 + len(ids)*(4+8*4+16*3*4)
	buf := make([]byte, size)
	copy(buf, frameMagic[:])
	off := 4
	putU64 := func(v uint64) { binary.LittleEndian.PutUint64(buf[off:], v); off += 8 }
	putU32 := func(v uint32) { binary.LittleEndian.PutUint32(buf[off:], v); off += 4 }
	putF32 := func(v float64) { binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v))); off += 4 }

	putU64(s.Version)
	putU64(s.Frame.TickID)
	putU32(uint32(s.Missing))
	putU32(uint32(kept))
	putU32(uint32(len(s.Frame.Sources)))
	putU32(uint32(len(ids)))

	for i := 0; i < n; i += stride {
		for j := 0; j < 4; j++ {
			putF32(s.Frame.Points.At(i, j))
		}
	}
	for _, src := range s.Frame.Sources {
		putU32(uint32(int32(src.AgentID)))
		putU32(uint32(src.Offset))
		putU32(uint32(src.Count))
	}
	for _, id := range ids {
		putU32(uint32(int32(id)))
		for _, v := range s.Boxes[id].Array() {
			putF32(v)
		}
		wf, ok := s.Wireframes[id]
		if !ok {
			wf = s.Boxes[id].Wireframe()
		}
		for _, v := range wf {
			putF32(v.X)
			putF32(v.Y)
			putF32(v.Z)
		}
	}
	return buf
}

// DecodeSnapshot unpacks a frame produced by EncodeSnapshot. Values come back
// at float32 precision.
func DecodeSnapshot(buf []byte) (Snapshot, error) {
	var s Snapshot
	if len(buf) < frameHeaderBytes || [4]byte(buf[:4]) != frameMagic {
		return s, fmt.Errorf("%w: bad header", ErrBadFrame)
	}
	off := 4
	u64 := func() uint64 { v := binary.LittleEndian.Uint64(buf[off:]); off += 8; return v }
	u32 := func() uint32 { v := binary.LittleEndian.Uint32(buf[off:]); off += 4; return v }
	f32 := func() float64 { v := math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])); off += 4; return float64(v) }

	s.Version = u64()
	s.Frame.TickID = u64()
	s.Missing = int(u32())
	points, sources, boxes := int(u32()), int(u32()), int(u32())

	want := frameHeaderBytes + points*16 + sources*12 + boxes*(4+8*4+16*3*4)
	if len(buf) != want {
		return Snapshot{}, fmt.Errorf("%w: %d bytes, want %d", ErrBadFrame, len(buf), want)
	}

	if points > 0 {
		data := make([]float64, points*4)
		for i := range data {
			data[i] = f32()
		}
		s.Frame.Points = mat.NewDense(points, 4, data)
	}
	for i := 0; i < sources; i++ {
		s.Frame.Sources = append(s.Frame.Sources, fusion.AgentSlice{
			AgentID: int(int32(u32())),
			Offset:  int(u32()),
			Count:   int(u32()),
		})
	}

	s.Boxes = make(map[int]bbox.VehicleBoundingBox, boxes)
	s.Wireframes = make(map[int][16]r3.Vector, boxes)
	for i := 0; i < boxes; i++ {
		id := int(int32(u32()))
		var a [8]float64
		for j := range a {
			a[j] = f32()
		}
		var wf [16]r3.Vector
		for j := range wf {
			wf[j] = r3.Vector{X: f32(), Y: f32(), Z: f32()}
		}
		s.Boxes[id] = bbox.FromArray(a)
		s.Wireframes[id] = wf
	}
	return s, nil
}
