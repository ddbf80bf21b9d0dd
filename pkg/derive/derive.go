// Package derive produces preview and thumbnail images from published pages.
package derive

import (
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp" // decoder registration

	"github.com/paulschiretz/pgl-gallery/pkg/syncerr"
	"github.com/paulschiretz/pgl-gallery/pkg/util"
)

// Profile bounds the dominant axis of a derived image.
type Profile struct {
	MaxWidth  int `json:"maxWidth"`
	MaxHeight int `json:"maxHeight"`
}

var (
	// Preview is the per-page preview profile.
	Preview = Profile{MaxWidth: 400, MaxHeight: 500}
	// Thumbnail is the per-comic cover profile.
	Thumbnail = Profile{MaxWidth: 200, MaxHeight: 300}
)

// Validate rejects non-positive bounds.
func (p Profile) Validate() error {
	if p.MaxWidth <= 0 || p.MaxHeight <= 0 {
		return fmt.Errorf("invalid profile %dx%d: bounds must be positive", p.MaxWidth, p.MaxHeight)
	}
	return nil
}

// ErrUnsupportedFormat is returned for target extensions without an encoder.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// ScaledSize fits w×h to the profile along its dominant axis. A landscape
// image (w > h) is scaled to maxW wide, anything else to maxH high; the other
// axis keeps the aspect ratio, rounded down and never below 1.
func ScaledSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 1, 1
	}
	var nw, nh int
	if w > h {
		nw, nh = maxW, h*maxW/w
	} else {
		nw, nh = w*maxH/h, maxH
	}
	return max(nw, 1), max(nh, 1)
}

// Resize decodes src, scales it to p and writes it to dst in the format
// implied by dst's extension. dst is replaced atomically. Every failure is
// returned as a *syncerr.AssetError.
func Resize(src, dst string, p Profile) error {
	if err := p.Validate(); err != nil {
		return &syncerr.AssetError{Op: "resize", Path: src, Err: err}
	}
	enc, err := encoderFor(dst)
	if err != nil {
		return &syncerr.AssetError{Op: "encode", Path: dst, Err: err}
	}

	img, err := decodeFile(src)
	if err != nil {
		return &syncerr.AssetError{Op: "decode", Path: src, Err: err}
	}

	b := img.Bounds()
	w, h := ScaledSize(b.Dx(), b.Dy(), p.MaxWidth, p.MaxHeight)
	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)

	if err := writeAtomic(dst, func(out io.Writer) error { return enc(out, scaled) }); err != nil {
		return &syncerr.AssetError{Op: "write", Path: dst, Err: err}
	}
	return nil
}

// DecodedSize estimates the memory the decoded pixels of src occupy, read
// from the image header alone.
func DecodedSize(src string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, &syncerr.AssetError{Op: "read", Path: src, Err: err}
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, &syncerr.AssetError{Op: "decode", Path: src, Err: err}
	}
	return int64(cfg.Width) * int64(cfg.Height) * 4, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

type encodeFunc func(io.Writer, image.Image) error

func encoderFor(path string) (encodeFunc, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return png.Encode, nil
	case ".jpg", ".jpeg":
		return func(w io.Writer, m image.Image) error {
			return jpeg.Encode(w, m, &jpeg.Options{Quality: 90})
		}, nil
	case ".gif":
		return func(w io.Writer, m image.Image) error { return gif.Encode(w, m, nil) }, nil
	case ".bmp":
		return bmp.Encode, nil
	case ".tif", ".tiff":
		return func(w io.Writer, m image.Image) error { return tiff.Encode(w, m, nil) }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// writeAtomic writes through a temp file in the target directory and renames
// it into place, so a failed encode never leaves a truncated derivative.
func writeAtomic(dst string, write func(io.Writer) error) error {
	dir := filepath.Dir(dst)
	out, err := os.CreateTemp(dir, ".derive-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	tmp := out.Name()
	defer func() {
		if tmp != "" {
			os.Remove(tmp)
		}
	}()

	if err := write(out); err != nil {
		out.Close()
		return err
	}
	if err := out.Chmod(util.UserWritableFilePerms); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return err
	}
	tmp = ""
	return nil
}
