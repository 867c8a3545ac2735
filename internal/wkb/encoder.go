package wkb

import (
	"encoding/binary"
	"math"
)

// WKB type constants (ISO SQL/MM specification)
const (
	wkbPoint   = 1
	wkbPolygon = 3

	// SRID flag for EWKB (PostGIS extended WKB)
	wkbSRIDFlag = 0x20000000
)

// SRID4326 is WGS84
const SRID4326 = 4326

// Encoder encodes geometries to WKB format
// Uses little-endian byte order and includes SRID (EWKB format)
type Encoder struct {
	buf  []byte
	srid uint32
}

// NewEncoder creates a new WKB encoder with pre-allocated buffer and default SRID 4326
func NewEncoder(initialSize int) *Encoder {
	return &Encoder{
		buf:  make([]byte, 0, initialSize),
		srid: SRID4326,
	}
}

// Reset clears the buffer for reuse
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// EncodePoint encodes a point as EWKB with SRID. The returned slice is owned by
// the encoder and is overwritten by the next call.
func (e *Encoder) EncodePoint(lon, lat float64) []byte {
	e.Reset()
	// Total size: 1 (byte order) + 4 (type+srid flag) + 4 (srid) + 16 (2 doubles) = 25 bytes
	e.ensureCapacity(25)

	e.buf = append(e.buf, 0x01)
	e.appendUint32(wkbPoint | wkbSRIDFlag)
	e.appendUint32(e.srid)

	// X=lon, Y=lat
	e.appendFloat64(lon)
	e.appendFloat64(lat)

	return e.buf
}

// IsClosed reports whether the ring's last vertex repeats its first
func IsClosed(ring [][2]float64) bool {
	return len(ring) > 1 && ring[0] == ring[len(ring)-1]
}

// EncodeRing encodes a [lat, lng] ring as an EWKB polygon with one outer ring.
// The ring is closed when its last vertex differs from the first.
func (e *Encoder) EncodeRing(ring [][2]float64) []byte {
	e.Reset()
	if len(ring) == 0 {
		return nil
	}
	closed := IsClosed(ring)
	numPoints := len(ring)
	if !closed {
		numPoints++
	}
	// Size: 1 + 4 + 4 + 4 (num rings) + 4 (ring size) + (numPoints * 16)
	e.ensureCapacity(17 + numPoints*16)

	e.buf = append(e.buf, 0x01)
	e.appendUint32(wkbPolygon | wkbSRIDFlag)
	e.appendUint32(e.srid)

	// Outer ring only
	e.appendUint32(1)
	e.appendUint32(uint32(numPoints))

	for _, v := range ring {
		e.appendFloat64(v[1]) // lon
		e.appendFloat64(v[0]) // lat
	}
	if !closed {
		e.appendFloat64(ring[0][1])
		e.appendFloat64(ring[0][0])
	}

	return e.buf
}

// Copy returns a copy of the current buffer, safe to keep across calls
func (e *Encoder) Copy() []byte {
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out
}

func (e *Encoder) ensureCapacity(n int) {
	if cap(e.buf) < n {
		e.buf = make([]byte, 0, n)
	}
}

func (e *Encoder) appendUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) appendFloat64(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}
