package cli

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/Fepozopo/autocrop/pkg/jfif"
	"github.com/Fepozopo/autocrop/pkg/stdimg"
)

// makeFramedGray returns a w x h white image with a black rectangle r.
func makeFramedGray(w, h int, r image.Rectangle) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255)
			if (image.Point{x, y}).In(r) {
				v = 0
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
}

// writeJPEG encodes img and, when d is non-nil, prefixes a JFIF header carrying d.
func writeJPEG(t *testing.T, path string, img image.Image, d *jfif.Density) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	data := buf.Bytes()
	if d != nil {
		var err error
		data, err = insertAppSegment(data, jfif.Segment(*d))
		if err != nil {
			t.Fatalf("insertAppSegment: %v", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want imaging.Format
		ok   bool
	}{
		{"a.png", imaging.PNG, true},
		{"a.PNG", imaging.PNG, true},
		{"dir.x/a.jpg", imaging.JPEG, true},
		{"a.JpEg", imaging.JPEG, true},
		{"a.gif", 0, false},
		{"a.bmp", 0, false},
		{"noext", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFromPath(tt.path)
			if !tt.ok {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("FormatFromPath = %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}

func TestInsertAppSegment(t *testing.T) {
	data := []byte{0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x02}
	seg := jfif.Segment(jfif.Density{Unit: jfif.UnitInch, X: 72, Y: 96})
	out, err := insertAppSegment(data, seg)
	if err != nil {
		t.Fatalf("insertAppSegment failed: %v", err)
	}
	if len(out) != len(data)+len(seg) {
		t.Fatalf("len = %d, want %d", len(out), len(data)+len(seg))
	}
	if !bytes.Equal(out[len(out)-4:], data[2:]) {
		t.Fatalf("payload after segment changed: % X", out)
	}
	d, err := jfif.Parse(out)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if d.X != 72 || d.Y != 96 || d.Unit != jfif.UnitInch {
		t.Fatalf("density = %+v", d)
	}
}

func TestInsertAppSegmentRejects(t *testing.T) {
	seg := jfif.Segment(jfif.Density{})
	if _, err := insertAppSegment([]byte{0x89, 'P', 'N', 'G'}, seg); err == nil {
		t.Errorf("expected error for non-JPEG data")
	}
	if _, err := insertAppSegment([]byte{0xFF, 0xD8, 0xFF, 0xD9}, []byte{0xFF, 0xDB, 0, 2}); err == nil {
		t.Errorf("expected error for non-APPn segment")
	}
	if _, err := insertAppSegment([]byte{0xFF, 0xD8, 0xFF, 0xD9}, []byte{0xFF, 0xE0, 0, 9}); err == nil {
		t.Errorf("expected error for bad length field")
	}
}

func TestEncodeImageJPEGHasJFIF(t *testing.T) {
	r := stdimg.NewRaster(8, 8, 3)
	data, err := EncodeImage(r, imaging.JPEG, 90)
	if err != nil {
		t.Fatalf("EncodeImage failed: %v", err)
	}
	d, err := jfif.Parse(data)
	if err != nil {
		t.Fatalf("encoded JPEG has no JFIF header: %v", err)
	}
	if d != defaultDensity {
		t.Fatalf("density = %+v, want %+v", d, defaultDensity)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("spliced JPEG does not decode: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Fatalf("decoded bounds %v", img.Bounds())
	}
}

func TestSaveAndLoadPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	r := stdimg.NewRaster(3, 2, 4)
	for i := range r.Pix {
		r.Pix[i] = 200
	}
	if err := SaveImage(path, r, DefaultJPEGQuality); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	back, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if back.Width != 3 || back.Height != 2 {
		t.Fatalf("loaded %dx%d, want 3x2", back.Width, back.Height)
	}
	if !bytes.Equal(back.Pix, r.Pix) {
		t.Fatalf("pixels changed through PNG round trip")
	}
}

func TestSaveImageUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tiff")
	if err := SaveImage(path, stdimg.NewRaster(1, 1, 1), 90); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("unsupported save created a file")
	}
}

func TestLoadImageErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadImage(filepath.Join(dir, "missing.png")); err == nil {
		t.Errorf("expected error for missing file")
	}
	garbage := filepath.Join(dir, "garbage.png")
	os.WriteFile(garbage, []byte("not an image"), 0o644)
	if _, err := LoadImage(garbage); err == nil {
		t.Errorf("expected error for undecodable file")
	}
}

func TestSaveImageReplacesFileInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.png")
	writePNG(t, path, makeFramedGray(4, 4, image.Rect(1, 1, 2, 2)))
	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := SaveImage(path, stdimg.NewRaster(2, 2, 1), DefaultJPEGQuality); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", st.Mode().Perm())
	}
	back, err := LoadImage(path)
	if err != nil || back.Width != 2 || back.Height != 2 {
		t.Fatalf("LoadImage = %v, %v", back, err)
	}
	assertOnlyEntries(t, dir, "scan.png")
}

func TestSaveImageFailureKeepsTarget(t *testing.T) {
	dir := t.TempDir()
	// a directory cannot be replaced by a file, so the final rename fails
	target := filepath.Join(dir, "out.png")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(target, "keep.txt")
	os.WriteFile(keep, []byte("x"), 0o644)

	if err := SaveImage(target, stdimg.NewRaster(2, 2, 1), DefaultJPEGQuality); err == nil {
		t.Fatalf("expected error replacing a directory")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("target contents lost: %v", err)
	}
	assertOnlyEntries(t, dir, "out.png")
}

func assertOnlyEntries(t *testing.T, dir string, names ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	if len(got) != len(names) {
		t.Fatalf("directory holds %v, want %v", got, names)
	}
	for i := range names {
		if got[i] != names[i] {
			t.Fatalf("directory holds %v, want %v", got, names)
		}
	}
}
