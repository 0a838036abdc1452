package imaging

import (
	"bytes"
	"path/filepath"
	"strings"

	"patient-imaging-api/constants"
	"patient-imaging-api/dicom"
)

// Format is the container classification of an upload.
type Format int

const (
	FormatUnknown Format = iota
	FormatStructuredBinary
	FormatRasterJPEG
	FormatRasterPNG
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
)

func (f Format) String() string {
	switch f {
	case FormatStructuredBinary:
		return "StructuredBinary"
	case FormatRasterJPEG:
		return "RasterJPEG"
	case FormatRasterPNG:
		return "RasterPNG"
	}
	return "Unknown"
}

// FileFormat is the stored file format tag for f.
func (f Format) FileFormat() string {
	switch f {
	case FormatStructuredBinary:
		return constants.FileFormatDICOM
	case FormatRasterJPEG:
		return constants.FileFormatJPEG
	case FormatRasterPNG:
		return constants.FileFormatPNG
	}
	return ""
}

// DetectFormat sniffs the content first. The file name only decides for
// DICOM files without a recognizable header, which the parser then rejects
// or accepts on its own terms.
func DetectFormat(fileName string, data []byte) Format {
	switch {
	case dicom.HasPart10Header(data):
		return FormatStructuredBinary
	case bytes.HasPrefix(data, jpegMagic):
		return FormatRasterJPEG
	case bytes.HasPrefix(data, pngMagic):
		return FormatRasterPNG
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".dcm", ".dicom":
		return FormatStructuredBinary
	}
	return FormatUnknown
}

// ContentType is the download content type for a stored file format.
func ContentType(fileFormat string) string {
	switch fileFormat {
	case constants.FileFormatJPEG:
		return constants.ContentTypeJPEG
	case constants.FileFormatPNG:
		return constants.ContentTypePNG
	}
	return constants.ContentTypeOctetStream
}
