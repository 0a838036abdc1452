package imaging

import (
	"testing"

	"patient-imaging-api/constants"
	"patient-imaging-api/dicom/dicomtest"

	"github.com/stretchr/testify/assert"
)

func TestDetectFormat(t *testing.T) {
	dcm := dicomtest.MonochromeMR()

	assert.Equal(t, FormatStructuredBinary, DetectFormat("scan.bin", dcm))
	assert.Equal(t, FormatStructuredBinary, DetectFormat("", dcm))
	assert.Equal(t, FormatRasterJPEG, DetectFormat("scan.png", jpegUpload))
	assert.Equal(t, FormatRasterPNG, DetectFormat("scan.jpg", pngUpload))
	assert.Equal(t, FormatStructuredBinary, DetectFormat("scan.dcm", []byte("no header")))
	assert.Equal(t, FormatStructuredBinary, DetectFormat("SCAN.DICOM", []byte("no header")))
	assert.Equal(t, FormatUnknown, DetectFormat("scan.jpg", []byte("no header")))
	assert.Equal(t, FormatUnknown, DetectFormat("scan", nil))
}

func TestFormatNames(t *testing.T) {
	assert.Equal(t, "StructuredBinary", FormatStructuredBinary.String())
	assert.Equal(t, "Unknown", FormatUnknown.String())
	assert.Equal(t, constants.FileFormatDICOM, FormatStructuredBinary.FileFormat())
	assert.Equal(t, constants.FileFormatPNG, FormatRasterPNG.FileFormat())
	assert.Equal(t, "", FormatUnknown.FileFormat())
}

func TestContentType(t *testing.T) {
	assert.Equal(t, constants.ContentTypeOctetStream, ContentType(constants.FileFormatDICOM))
	assert.Equal(t, constants.ContentTypeJPEG, ContentType(constants.FileFormatJPEG))
	assert.Equal(t, constants.ContentTypePNG, ContentType(constants.FileFormatPNG))
	assert.Equal(t, constants.ContentTypeOctetStream, ContentType(""))
}
