package stdimg

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// ErrInvalidGeometry is returned by Validate for rasters that cannot be scanned.
var ErrInvalidGeometry = errors.New("invalid raster geometry")

// Raster is an interleaved 8-bit pixel buffer. Pixel (x,y) channel c lives at
// Pix[(y*Width+x)*Channels+c].
type Raster struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// NewRaster allocates a zeroed raster.
func NewRaster(w, h, channels int) *Raster {
	return &Raster{Width: w, Height: h, Channels: channels, Pix: make([]byte, w*h*channels)}
}

// Validate reports whether r has positive dimensions and a buffer of matching length.
func (r *Raster) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil raster", ErrInvalidGeometry)
	}
	if r.Width <= 0 || r.Height <= 0 || r.Channels <= 0 {
		return fmt.Errorf("%w: %dx%d with %d channels", ErrInvalidGeometry, r.Width, r.Height, r.Channels)
	}
	if len(r.Pix) != r.Width*r.Height*r.Channels {
		return fmt.Errorf("%w: buffer holds %d bytes, want %d", ErrInvalidGeometry, len(r.Pix), r.Width*r.Height*r.Channels)
	}
	return nil
}

// PixOffset returns the index of the first channel of pixel (x,y).
func (r *Raster) PixOffset(x, y int) int {
	return (y*r.Width + x) * r.Channels
}

// At returns the channel values of pixel (x,y). The slice aliases r.Pix.
func (r *Raster) At(x, y int) []byte {
	i := r.PixOffset(x, y)
	return r.Pix[i : i+r.Channels : i+r.Channels]
}

// FromImage converts a decoded image into a raster. Gray images become one
// channel, YCbCr/CMYK and opaque paletted images three, everything else four
// (non-premultiplied RGBA). Color values of transparent pixels are kept as
// decoded; 16-bit samples keep their high byte.
func FromImage(src image.Image) *Raster {
	if src == nil {
		return nil
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	switch s := src.(type) {
	case *image.Gray:
		out := NewRaster(w, h, 1)
		for y := 0; y < h; y++ {
			i := s.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*w:(y+1)*w], s.Pix[i:i+w])
		}
		return out
	case *image.NRGBA:
		out := NewRaster(w, h, 4)
		for y := 0; y < h; y++ {
			i := s.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*w*4:(y+1)*w*4], s.Pix[i:i+w*4])
		}
		return out
	case *image.Gray16:
		out := NewRaster(w, h, 1)
		highBytes(out.Pix, w, h, s.Pix, s.Stride, s.PixOffset(b.Min.X, b.Min.Y))
		return out
	case *image.NRGBA64:
		out := NewRaster(w, h, 4)
		highBytes(out.Pix, w*4, h, s.Pix, s.Stride, s.PixOffset(b.Min.X, b.Min.Y))
		return out
	case *image.YCbCr, *image.CMYK:
		return toRGB(src)
	case *image.Paletted:
		if s.Opaque() {
			return toRGB(src)
		}
		return fromPaletted(s)
	}
	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(nrgba, nrgba.Bounds(), src, b.Min, draw.Src)
	return &Raster{Width: w, Height: h, Channels: 4, Pix: nrgba.Pix}
}

// highBytes copies the most significant byte of each big-endian 16-bit
// sample. rowLen counts samples per row.
func highBytes(dst []byte, rowLen, h int, src []byte, stride, offset int) {
	for y := 0; y < h; y++ {
		row := dst[y*rowLen : (y+1)*rowLen]
		i := offset + y*stride
		for j := range row {
			row[j] = src[i+2*j]
		}
	}
}

// fromPaletted expands indices through the palette without premultiplying,
// so transparent entries keep their color.
func fromPaletted(s *image.Paletted) *Raster {
	lut := make([]color.NRGBA, len(s.Palette))
	for i, c := range s.Palette {
		if nc, ok := c.(color.NRGBA); ok {
			lut[i] = nc
		} else {
			lut[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
		}
	}
	b := s.Bounds()
	w, h := b.Dx(), b.Dy()
	out := NewRaster(w, h, 4)
	o := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var c color.NRGBA
			if idx := int(s.Pix[s.PixOffset(x, y)]); idx < len(lut) {
				c = lut[idx]
			}
			out.Pix[o+0] = c.R
			out.Pix[o+1] = c.G
			out.Pix[o+2] = c.B
			out.Pix[o+3] = c.A
			o += 4
		}
	}
	return out
}

// toRGB drops the alpha channel of an opaque source.
func toRGB(src image.Image) *Raster {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(nrgba, nrgba.Bounds(), src, b.Min, draw.Src)
	out := NewRaster(w, h, 3)
	for i, j := 0, 0; i < len(nrgba.Pix); i, j = i+4, j+3 {
		out.Pix[j+0] = nrgba.Pix[i+0]
		out.Pix[j+1] = nrgba.Pix[i+1]
		out.Pix[j+2] = nrgba.Pix[i+2]
	}
	return out
}

// Image wraps the raster in an image.Image suitable for the standard encoders.
// One channel yields *image.Gray; two channels are read as gray+alpha; three
// as opaque RGB; four or more as NRGBA using the first four channels.
func (r *Raster) Image() image.Image {
	rect := image.Rect(0, 0, r.Width, r.Height)
	if r.Channels == 1 {
		g := image.NewGray(rect)
		copy(g.Pix, r.Pix)
		return g
	}
	out := image.NewNRGBA(rect)
	n := r.Width * r.Height
	for p := 0; p < n; p++ {
		src := r.Pix[p*r.Channels : (p+1)*r.Channels]
		var c color.NRGBA
		switch r.Channels {
		case 2:
			c = color.NRGBA{src[0], src[0], src[0], src[1]}
		case 3:
			c = color.NRGBA{src[0], src[1], src[2], 255}
		default:
			c = color.NRGBA{src[0], src[1], src[2], src[3]}
		}
		o := p * 4
		out.Pix[o+0] = c.R
		out.Pix[o+1] = c.G
		out.Pix[o+2] = c.B
		out.Pix[o+3] = c.A
	}
	return out
}
