// Package preview renders the first frame of a parsed DICOM dataset as an
// 8-bit JPEG suitable for thumbnails.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"patient-imaging-api/dicom"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrUnsupportedPixelEncoding covers every reason a recognized file has no
// renderable pixels: compressed syntaxes other than JPEG baseline, colour
// models other than grayscale/RGB, odd sample sizes and missing or short
// pixel data.
var ErrUnsupportedPixelEncoding = errors.New("unsupported pixel encoding")

const DefaultQuality = 90

type Options struct {
	Quality int
}

func (opts Options) quality() int {
	if opts.Quality < 1 || opts.Quality > 100 {
		return DefaultQuality
	}
	return opts.Quality
}

func unsupported(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedPixelEncoding, fmt.Sprintf(format, args...))
}

// Render decodes frame 0 of ds and encodes it as JPEG.
func Render(ds *dicom.Dataset, opts Options) ([]byte, error) {
	img, err := Decode(ds)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.quality()}); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode turns frame 0 into an 8-bit image with rescale and windowing
// already applied.
func Decode(ds *dicom.Dataset) (image.Image, error) {
	if ds.PixelData == nil {
		return nil, unsupported("no pixel data")
	}
	if ds.IsEncapsulated() {
		return decodeEncapsulated(ds)
	}
	module, err := readPixelModule(ds)
	if err != nil {
		return nil, err
	}
	switch module.photometric {
	case "MONOCHROME1", "MONOCHROME2":
		return decodeMonochrome(ds, module)
	case "RGB":
		return decodeRGB(ds, module)
	}
	return nil, unsupported("photometric interpretation %q", module.photometric)
}

// decodeEncapsulated handles the JPEG process 1 and 2/4 syntaxes. A 12-bit
// frame under .51 fails in jpeg.Decode and is reported as unsupported.
func decodeEncapsulated(ds *dicom.Dataset) (image.Image, error) {
	switch ds.TransferSyntaxUID {
	case dicom.JPEGBaseline8Bit, dicom.JPEGExtended12Bit:
	default:
		return nil, unsupported("transfer syntax %s", ds.TransferSyntaxUID)
	}
	frames, _ := ds.Int(tag.NumberOfFrames)
	data := firstFrame(ds.PixelData, frames)
	if len(data) == 0 {
		return nil, unsupported("empty encapsulated frame")
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, unsupported("decode jpeg frame: %v", err)
	}
	return img, nil
}

// firstFrame collects the fragments of frame 0. A single-frame object may
// split its frame over several fragments; a multi-frame object is assumed
// to use one fragment per frame.
func firstFrame(pixels *dicom.PixelData, frames int) []byte {
	if len(pixels.Fragments) == 0 {
		return nil
	}
	if frames <= 1 {
		return bytes.Join(pixels.Fragments, nil)
	}
	return pixels.Fragments[0]
}
