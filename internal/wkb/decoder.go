package wkb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrTruncated is returned when the input ends before the geometry does
var ErrTruncated = errors.New("wkb: truncated geometry")

type reader struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
}

func (r *reader) uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := r.order.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) float64() (float64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := math.Float64frombits(r.order.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

// header reads the byte order, type and optional SRID
func (r *reader) header() (uint32, error) {
	if len(r.buf) == 0 {
		return 0, ErrTruncated
	}
	switch r.buf[0] {
	case 0x00:
		r.order = binary.BigEndian
	case 0x01:
		r.order = binary.LittleEndian
	default:
		return 0, fmt.Errorf("wkb: invalid byte order %#x", r.buf[0])
	}
	r.pos = 1

	typ, err := r.uint32()
	if err != nil {
		return 0, err
	}
	if typ&wkbSRIDFlag != 0 {
		if _, err := r.uint32(); err != nil {
			return 0, err
		}
	}
	return typ &^ wkbSRIDFlag, nil
}

// DecodePoint decodes a WKB or EWKB point into lon, lat
func DecodePoint(b []byte) (lon, lat float64, err error) {
	r := &reader{buf: b}
	typ, err := r.header()
	if err != nil {
		return 0, 0, err
	}
	if typ != wkbPoint {
		return 0, 0, fmt.Errorf("wkb: expected point, got type %d", typ)
	}
	if lon, err = r.float64(); err != nil {
		return 0, 0, err
	}
	if lat, err = r.float64(); err != nil {
		return 0, 0, err
	}
	return lon, lat, nil
}

// DecodeRing decodes the outer ring of a WKB or EWKB polygon into [lat, lng]
// vertices. closed tells whether the ring was closed before EncodeRing; when it
// was not, the closing vertex the encoder appended is dropped.
func DecodeRing(b []byte, closed bool) ([][2]float64, error) {
	r := &reader{buf: b}
	typ, err := r.header()
	if err != nil {
		return nil, err
	}
	if typ != wkbPolygon {
		return nil, fmt.Errorf("wkb: expected polygon, got type %d", typ)
	}

	numRings, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if numRings == 0 {
		return nil, nil
	}
	numPoints, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if int(numPoints)*16 > len(b)-r.pos {
		return nil, ErrTruncated
	}

	ring := make([][2]float64, 0, numPoints)
	for i := uint32(0); i < numPoints; i++ {
		lon, err := r.float64()
		if err != nil {
			return nil, err
		}
		lat, err := r.float64()
		if err != nil {
			return nil, err
		}
		ring = append(ring, [2]float64{lat, lon})
	}
	if n := len(ring); !closed && n > 1 && ring[0] == ring[n-1] {
		ring = ring[:n-1]
	}
	return ring, nil
}
