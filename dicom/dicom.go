// Package dicom opens DICOM Part 10 files with github.com/suyashkumar/dicom
// and exposes the study metadata and the first frame of pixel data the
// service needs.
package dicom

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	sdicom "github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrMalformedImageFile is returned when the bytes are not a recognizable
// Part 10 container.
var ErrMalformedImageFile = errors.New("malformed image file")

// Transfer syntax UIDs the parser and the preview renderer care about.
const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2"
	JPEGBaseline8Bit               = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit              = "1.2.840.10008.1.2.4.51"
	JPEGLossless                   = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1                = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless                 = "1.2.840.10008.1.2.4.80"
	JPEG2000Lossless               = "1.2.840.10008.1.2.4.90"
	JPEG2000                       = "1.2.840.10008.1.2.4.91"
	RLELossless                    = "1.2.840.10008.1.2.5"
)

const specificCharacterSetISO1 = "ISO_IR 100"

func tagName(t tag.Tag) string {
	info, err := tag.Find(t)
	if err != nil || info.Name == "" {
		return t.String()
	}
	return info.Name
}

// PixelData is the pixel payload of a parsed file, reduced to what the
// preview renderer reads.
type PixelData struct {
	Encapsulated bool
	// Fragments holds one entry per encapsulated item after the basic
	// offset table.
	Fragments [][]byte
	// Samples is frame 0 of native pixel data in stored order,
	// SamplesPerPixel values per pixel, not yet masked to BitsStored.
	Samples []int
}

// Dataset is the top-level view of a parsed file.
type Dataset struct {
	TransferSyntaxUID string
	PixelData         *PixelData
	// Err is the error that stopped the walk early, if any. Elements read
	// before it are still available.
	Err error

	raw sdicom.Dataset
}

// Element looks up a top-level element; nested sequence items are not
// searched.
func (ds *Dataset) Element(t tag.Tag) (*sdicom.Element, bool) {
	el, err := ds.raw.FindElementByTag(t)
	if err != nil || el == nil {
		return nil, false
	}
	return el, true
}

// Len is the number of top-level elements, file meta information included.
func (ds *Dataset) Len() int {
	return len(ds.raw.Elements)
}

func (ds *Dataset) value(t tag.Tag) interface{} {
	el, found := ds.Element(t)
	if !found || el.Value == nil {
		return nil
	}
	return el.Value.GetValue()
}

// Strings returns each value of a multi-valued text element with DICOM
// padding removed.
func (ds *Dataset) Strings(t tag.Tag) []string {
	var raw string
	switch v := ds.value(t).(type) {
	case []string:
		raw = strings.Join(v, `\`)
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return nil
	}
	raw = ds.decodeText(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, `\`)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// String returns the element value as text. Multi-valued strings are
// returned whole.
func (ds *Dataset) String(t tag.Tag) string {
	return strings.Join(ds.Strings(t), `\`)
}

// Int reads the first value of a US/UL/SS/SL element, or of an IS element
// such as NumberOfFrames.
func (ds *Dataset) Int(t tag.Tag) (int, bool) {
	switch v := ds.value(t).(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		n, err := strconv.Atoi(firstValue(ds.String(t)))
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

// Float reads the first value of a DS element.
func (ds *Dataset) Float(t tag.Tag) (float64, bool) {
	switch v := ds.value(t).(type) {
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	case []int:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []string:
		raw := firstValue(ds.String(t))
		if raw == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

// Missing lists the keywords of the given tags that are absent or empty.
func (ds *Dataset) Missing(tags ...tag.Tag) []string {
	missing := make([]string, 0)
	for _, t := range tags {
		if ds.String(t) == "" {
			missing = append(missing, tagName(t))
		}
	}
	return missing
}

// IsEncapsulated reports whether pixel data is stored as compressed fragments.
func (ds *Dataset) IsEncapsulated() bool {
	return ds.PixelData != nil && ds.PixelData.Encapsulated
}

// decodeText strips padding and, for Latin-1 files, turns raw ISO 8859-1
// bytes into UTF-8. Text that is already valid UTF-8 is left alone.
func (ds *Dataset) decodeText(text string) string {
	if !utf8.ValidString(text) && ds.latin1() {
		runes := make([]rune, len(text))
		for i := 0; i < len(text); i++ {
			runes[i] = rune(text[i])
		}
		text = string(runes)
	}
	return strings.TrimSpace(strings.TrimRight(text, "\x00 "))
}

func (ds *Dataset) latin1() bool {
	if v, ok := ds.value(tag.SpecificCharacterSet).([]string); ok {
		return strings.Contains(strings.Join(v, `\`), specificCharacterSetISO1)
	}
	return false
}

func firstValue(raw string) string {
	if i := strings.IndexByte(raw, '\\'); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}
