package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/Fepozopo/autocrop/pkg/jfif"
	"github.com/Fepozopo/autocrop/pkg/stdimg"
)

// ErrUnsupportedFormat is returned for files whose extension is neither PNG nor JPEG.
var ErrUnsupportedFormat = errors.New("unsupported file extension")

// defaultDensity is what the JFIF header of a freshly encoded JPEG claims
// until the original density is patched back in.
var defaultDensity = jfif.Density{Unit: jfif.UnitAspect, X: 1, Y: 1}

// FormatFromPath picks the codec from the file extension, case-insensitively.
// Only .png, .jpg and .jpeg are accepted.
func FormatFromPath(path string) (imaging.Format, error) {
	f, err := imaging.FormatFromFilename(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	switch f {
	case imaging.JPEG, imaging.PNG:
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadImage decodes the file at path into a raster. EXIF orientation is not
// applied; pixels are cropped as stored.
func LoadImage(path string) (*stdimg.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := imaging.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	r := stdimg.FromImage(img)
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return r, nil
}

// EncodeImage serializes r in the given format. JPEG output always starts
// with a JFIF APP0 segment so its density can be patched later.
func EncodeImage(r *stdimg.Raster, format imaging.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, r.Image(), format, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	if format != imaging.JPEG {
		return buf.Bytes(), nil
	}
	return insertAppSegment(buf.Bytes(), jfif.Segment(defaultDensity))
}

// SaveImage encodes r using the format implied by path and replaces the file.
// The existing file is only replaced once the new contents are fully written.
func SaveImage(path string, r *stdimg.Raster, quality int) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := EncodeImage(r, format, quality)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	perm := os.FileMode(0o644)
	if st, err := os.Stat(path); err == nil {
		perm = st.Mode().Perm()
	}
	return replaceFile(path, data, perm)
}

// replaceFile writes data to a temporary file next to path and renames it
// over path, so a failed write never truncates the existing file.
func replaceFile(path string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// insertAppSegment places an APPn segment (marker included) directly after
// the SOI marker of a JPEG stream.
func insertAppSegment(data []byte, seg []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("not a JPEG stream")
	}
	if len(seg) < 4 || seg[0] != 0xFF || seg[1] < 0xE0 || seg[1] > 0xEF {
		return nil, fmt.Errorf("not an APPn segment")
	}
	if segLen := int(seg[2])<<8 | int(seg[3]); segLen != len(seg)-2 {
		return nil, fmt.Errorf("APPn length field %d does not match payload %d", segLen, len(seg)-2)
	}
	out := make([]byte, 0, len(data)+len(seg))
	out = append(out, data[:2]...)
	out = append(out, seg...)
	out = append(out, data[2:]...)
	return out, nil
}
