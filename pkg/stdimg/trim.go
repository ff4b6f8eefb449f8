package stdimg

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// DefaultThreshold is the luma below which a pixel counts as content.
const DefaultThreshold = 75

var (
	// ErrNoContent means the scan found no pixel darker than the threshold.
	ErrNoContent = errors.New("no content found")
	// ErrBoxOutOfBounds means a crop box does not fit inside the raster.
	ErrBoxOutOfBounds = errors.New("crop box outside raster bounds")
	// ErrAllocation means the output buffer for a crop could not be obtained.
	ErrAllocation = errors.New("cannot allocate crop buffer")
)

// Box is an inclusive pixel rectangle. The coordinates are only meaningful
// when Found is true.
type Box struct {
	MinX, MaxX int
	MinY, MaxY int
	Found      bool
}

// Dx returns the box width in pixels.
func (b Box) Dx() int { return b.MaxX - b.MinX + 1 }

// Dy returns the box height in pixels.
func (b Box) Dy() int { return b.MaxY - b.MinY + 1 }

// Rect returns the box as a half-open image.Rectangle.
func (b Box) Rect() image.Rectangle {
	if !b.Found {
		return image.Rectangle{}
	}
	return image.Rect(b.MinX, b.MinY, b.MaxX+1, b.MaxY+1)
}

func (b Box) String() string {
	if !b.Found {
		return "none"
	}
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// Luma projects one pixel to gray with the Rec.601 weights, truncating toward
// zero. Pixels with fewer than three channels are already gray.
func Luma(px []byte) uint8 {
	if len(px) < 3 {
		return px[0]
	}
	// explicit conversions keep each product rounded to float32 (no fused multiply-add)
	r := float32(float32(px[0]) * 0.299)
	g := float32(float32(px[1]) * 0.587)
	b := float32(float32(px[2]) * 0.114)
	return uint8(r + g + b)
}

// Scan returns the tightest box around every pixel whose luma is strictly
// below threshold. Found is false when there is no such pixel.
func Scan(src *Raster, threshold uint8) Box {
	if src == nil || src.Channels <= 0 {
		return Box{}
	}
	w, h, ch := src.Width, src.Height, src.Channels
	minX, minY := w, h
	maxX, maxY := -1, -1

	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if Luma(src.Pix[i:i+ch]) < threshold {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
			i += ch
		}
	}

	if maxX < minX || maxY < minY {
		return Box{}
	}
	return Box{MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY, Found: true}
}

// Crop copies the pixels inside b into a new raster with the same channel
// layout. The result never shares memory with src.
func Crop(src *Raster, b Box) (*Raster, error) {
	if !b.Found {
		return nil, ErrNoContent
	}
	if src.Channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidGeometry, src.Channels)
	}
	if b.MinX < 0 || b.MinY < 0 || b.MaxX >= src.Width || b.MaxY >= src.Height || b.MinX > b.MaxX || b.MinY > b.MaxY {
		return nil, fmt.Errorf("%w: box %s, raster %dx%d", ErrBoxOutOfBounds, b, src.Width, src.Height)
	}
	w, h, ch := b.Dx(), b.Dy(), src.Channels
	rowLen := w * ch
	if rowLen/ch != w || h > math.MaxInt/rowLen {
		return nil, fmt.Errorf("%w: %dx%d with %d channels", ErrAllocation, w, h, ch)
	}
	pix, err := allocate(rowLen * h)
	if err != nil {
		return nil, err
	}
	for y := 0; y < h; y++ {
		si := src.PixOffset(b.MinX, b.MinY+y)
		copy(pix[y*rowLen:(y+1)*rowLen], src.Pix[si:si+rowLen])
	}
	return &Raster{Width: w, Height: h, Channels: ch, Pix: pix}, nil
}

// allocate converts an out-of-memory style runtime panic from make into ErrAllocation.
func allocate(n int) (pix []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			pix = nil
			err = fmt.Errorf("%w: %d bytes: %v", ErrAllocation, n, r)
		}
	}()
	return make([]byte, n), nil
}

// Trim scans src and crops it to the content box.
func Trim(src *Raster, threshold uint8) (*Raster, Box, error) {
	if err := src.Validate(); err != nil {
		return nil, Box{}, err
	}
	b := Scan(src, threshold)
	if !b.Found {
		return nil, b, ErrNoContent
	}
	out, err := Crop(src, b)
	if err != nil {
		return nil, b, err
	}
	return out, b, nil
}
