package preview

import (
	"image"
	"image/color"
	"math"

	"patient-imaging-api/dicom"

	"github.com/suyashkumar/dicom/pkg/tag"
)

type pixelModule struct {
	rows, cols    int
	samples       int
	bitsAllocated int
	bitsStored    int
	signed        bool
	planar        bool
	photometric   string
}

func readPixelModule(ds *dicom.Dataset) (pixelModule, error) {
	var module pixelModule

	rows, okRows := ds.Int(tag.Rows)
	cols, okCols := ds.Int(tag.Columns)
	if !okRows || !okCols || rows <= 0 || cols <= 0 {
		return module, unsupported("missing image dimensions")
	}
	module.rows, module.cols = rows, cols

	bitsAllocated, ok := ds.Int(tag.BitsAllocated)
	if !ok {
		return module, unsupported("missing bits allocated")
	}
	if bitsAllocated != 8 && bitsAllocated != 16 {
		return module, unsupported("%d bits allocated", bitsAllocated)
	}
	module.bitsAllocated = bitsAllocated

	module.bitsStored = module.bitsAllocated
	if bitsStored, ok := ds.Int(tag.BitsStored); ok && bitsStored > 0 && bitsStored <= bitsAllocated {
		module.bitsStored = bitsStored
	}

	module.samples = 1
	if samples, ok := ds.Int(tag.SamplesPerPixel); ok && samples > 0 {
		module.samples = samples
	}
	representation, _ := ds.Int(tag.PixelRepresentation)
	module.signed = representation == 1
	planar, _ := ds.Int(tag.PlanarConfiguration)
	module.planar = planar == 1

	module.photometric = ds.String(tag.PhotometricInterpretation)
	if module.photometric == "" && module.samples == 1 {
		module.photometric = "MONOCHROME2"
	}

	need := module.rows * module.cols * module.samples
	if len(ds.PixelData.Samples) < need {
		return module, unsupported("pixel data has %d samples, frame needs %d", len(ds.PixelData.Samples), need)
	}
	return module, nil
}

// storedValue masks a raw sample to BitsStored and sign-extends it.
func storedValue(raw uint32, bitsStored int, signed bool) int64 {
	mask := uint32(1)<<uint(bitsStored) - 1
	v := int64(raw & mask)
	if signed && v&(int64(1)<<uint(bitsStored-1)) != 0 {
		v -= int64(1) << uint(bitsStored)
	}
	return v
}

func decodeMonochrome(ds *dicom.Dataset, module pixelModule) (image.Image, error) {
	if module.samples != 1 {
		return nil, unsupported("%d samples per pixel for %s", module.samples, module.photometric)
	}

	slope, ok := ds.Float(tag.RescaleSlope)
	if !ok || slope == 0 {
		slope = 1
	}
	intercept, _ := ds.Float(tag.RescaleIntercept)

	n := module.rows * module.cols
	samples := ds.PixelData.Samples
	values := make([]float64, n)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		v := float64(storedValue(uint32(samples[i]), module.bitsStored, module.signed))*slope + intercept
		values[i] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	lut := minMaxWindow(lo, hi)
	center, okCenter := ds.Float(tag.WindowCenter)
	width, okWidth := ds.Float(tag.WindowWidth)
	if okCenter && okWidth && width >= 1 {
		lut = linearWindow(center, width)
	}

	img := image.NewGray(image.Rect(0, 0, module.cols, module.rows))
	invert := module.photometric == "MONOCHROME1"
	for i, v := range values {
		g := lut(v)
		if invert {
			g = 255 - g
		}
		img.Pix[i] = g
	}
	return img, nil
}

func decodeRGB(ds *dicom.Dataset, module pixelModule) (image.Image, error) {
	if module.samples != 3 || module.bitsAllocated != 8 {
		return nil, unsupported("RGB with %d samples of %d bits", module.samples, module.bitsAllocated)
	}
	n := module.rows * module.cols
	data := ds.PixelData.Samples
	img := image.NewRGBA(image.Rect(0, 0, module.cols, module.rows))
	for i := 0; i < n; i++ {
		var r, g, b uint8
		if module.planar {
			r, g, b = uint8(data[i]), uint8(data[n+i]), uint8(data[2*n+i])
		} else {
			r, g, b = uint8(data[3*i]), uint8(data[3*i+1]), uint8(data[3*i+2])
		}
		img.SetRGBA(i%module.cols, i/module.cols, color.RGBA{R: r, G: g, B: b, A: 255})
	}
	return img, nil
}

// linearWindow is the DICOM VOI LINEAR function mapped onto 0..255.
func linearWindow(center, width float64) func(float64) uint8 {
	lower := center - 0.5 - (width-1)/2
	upper := center - 0.5 + (width-1)/2
	return func(x float64) uint8 {
		switch {
		case x <= lower:
			return 0
		case x > upper:
			return 255
		}
		return clamp8(((x-(center-0.5))/(width-1) + 0.5) * 255)
	}
}

// minMaxWindow stretches the observed range of the frame; a flat frame
// renders black.
func minMaxWindow(lo, hi float64) func(float64) uint8 {
	if hi <= lo {
		return func(float64) uint8 { return 0 }
	}
	return func(x float64) uint8 {
		return clamp8((x - lo) / (hi - lo) * 255)
	}
}

func clamp8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
