// Package jfif reads and patches the pixel density fields of a JFIF APP0
// header in place.
//
// Only the fixed layout written by common encoders is understood: SOI
// immediately followed by the JFIF APP0 segment. Files with any other
// leading segment (an EXIF APP1, for example) are reported as carrying no
// density rather than searched.
//
//	offset  0-1   FF D8            start of image
//	offset  2-3   FF E0            APP0 marker
//	offset  4-5   segment length
//	offset  6-10  "JFIF\x00"       identifier
//	offset 11-12  version
//	offset 13     density unit
//	offset 14-15  X density, big endian
//	offset 16-17  Y density, big endian
package jfif

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// HeaderSize is the number of leading file bytes the accessor inspects.
const HeaderSize = 18

const (
	unitOffset     = 13
	xDensityOffset = 14
	yDensityOffset = 16
	patchSize      = HeaderSize - unitOffset

	// marker + length + identifier + version + unit + densities + thumbnail size
	app0SegmentSize = 2 + 2 + 5 + 2 + 1 + 4 + 2
)

// Density units.
const (
	UnitAspect = 0 // no unit, X:Y is a pixel aspect ratio
	UnitInch   = 1
	UnitCm     = 2
)

var (
	soi        = []byte{0xFF, 0xD8}
	app0       = []byte{0xFF, 0xE0}
	identifier = []byte("JFIF\x00")
)

var (
	// ErrNotJFIF means the header does not start with SOI + JFIF APP0.
	ErrNotJFIF = errors.New("no JFIF APP0 header")
	// ErrHeaderChanged means the header failed validation at patch time; the
	// file was left untouched.
	ErrHeaderChanged = errors.New("JFIF header no longer valid, density not written")
)

// Density is the resolution carried by a JFIF header.
type Density struct {
	Unit uint8
	X    uint16
	Y    uint16
}

func (d Density) String() string {
	switch d.Unit {
	case UnitInch:
		return fmt.Sprintf("%dx%d dpi", d.X, d.Y)
	case UnitCm:
		return fmt.Sprintf("%dx%d dots/cm", d.X, d.Y)
	default:
		return fmt.Sprintf("%d:%d aspect (unit %d)", d.X, d.Y, d.Unit)
	}
}

func valid(hdr []byte) bool {
	return len(hdr) >= HeaderSize &&
		bytes.Equal(hdr[0:2], soi) &&
		bytes.Equal(hdr[2:4], app0) &&
		bytes.Equal(hdr[6:11], identifier)
}

// Parse extracts the density from the first HeaderSize bytes of a file.
func Parse(hdr []byte) (Density, error) {
	if !valid(hdr) {
		return Density{}, ErrNotJFIF
	}
	return Density{
		Unit: hdr[unitOffset],
		X:    binary.BigEndian.Uint16(hdr[xDensityOffset:]),
		Y:    binary.BigEndian.Uint16(hdr[yDensityOffset:]),
	}, nil
}

// Read reads exactly HeaderSize bytes from r and parses them. A stream
// shorter than the header is ErrNotJFIF, not an I/O failure.
func Read(r io.Reader) (Density, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Density{}, ErrNotJFIF
		}
		return Density{}, fmt.Errorf("read jfif header: %w", err)
	}
	return Parse(hdr[:])
}

// ReadFile opens path read-only and reads its density.
func ReadFile(path string) (Density, error) {
	f, err := os.Open(path)
	if err != nil {
		return Density{}, err
	}
	defer f.Close()
	return Read(f)
}

// Write re-reads the header at the start of rws and, if it is still a JFIF
// APP0 header, overwrites the five density bytes at offset 13. No other
// byte is touched.
func Write(rws io.ReadWriteSeeker, d Density) error {
	if _, err := rws.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek jfif header: %w", err)
	}
	if _, err := Read(rws); err != nil {
		if errors.Is(err, ErrNotJFIF) {
			return ErrHeaderChanged
		}
		return err
	}
	if _, err := rws.Seek(unitOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seek density: %w", err)
	}
	var patch [patchSize]byte
	patch[0] = d.Unit
	binary.BigEndian.PutUint16(patch[1:3], d.X)
	binary.BigEndian.PutUint16(patch[3:5], d.Y)
	if _, err := rws.Write(patch[:]); err != nil {
		return fmt.Errorf("write density: %w", err)
	}
	return nil
}

// WriteFile patches the density of an existing file. The file is neither
// created nor truncated.
func WriteFile(path string, d Density) (err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Write(f, d)
}

// Segment returns a complete JFIF 1.01 APP0 segment (marker included, no
// thumbnail) carrying d. Placed right after SOI it yields a header that
// Parse accepts.
func Segment(d Density) []byte {
	seg := make([]byte, app0SegmentSize)
	copy(seg[0:2], app0)
	binary.BigEndian.PutUint16(seg[2:4], app0SegmentSize-2)
	copy(seg[4:9], identifier)
	seg[9], seg[10] = 1, 1
	seg[11] = d.Unit
	binary.BigEndian.PutUint16(seg[12:14], d.X)
	binary.BigEndian.PutUint16(seg[14:16], d.Y)
	// seg[16], seg[17]: thumbnail width and height, zero
	return seg
}
