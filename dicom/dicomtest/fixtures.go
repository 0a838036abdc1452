package dicomtest

import (
	"encoding/binary"

	"patient-imaging-api/dicom"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Study adds the metadata elements every fixture shares.
func (b *Builder) Study() *Builder {
	return b.
		String(tag.PatientName, "PN", "Doe^Jane").
		String(tag.StudyDate, "DA", "20240315").
		String(tag.Modality, "CS", "MR").
		String(tag.StudyDescription, "LO", "Knee MRI").
		String(tag.SeriesDescription, "LO", "Sagittal PD").
		String(tag.BodyPartExamined, "CS", "KNEE").
		String(tag.StudyInstanceUID, "UI", "1.2.826.0.1.3680043.8.498.1").
		String(tag.SeriesInstanceUID, "UI", "1.2.826.0.1.3680043.8.498.2")
}

// Image adds the image pixel module for a single-sample frame.
func (b *Builder) Image(rows, cols, bitsAllocated uint16, photometric string) *Builder {
	return b.
		Uint16(tag.SamplesPerPixel, 1).
		String(tag.PhotometricInterpretation, "CS", photometric).
		Uint16(tag.Rows, rows).
		Uint16(tag.Columns, cols).
		Uint16(tag.BitsAllocated, bitsAllocated).
		Uint16(tag.BitsStored, bitsAllocated).
		Uint16(tag.HighBit, bitsAllocated-1).
		Uint16(tag.PixelRepresentation, 0)
}

// Gradient8 is a rows x cols 8-bit ramp.
func Gradient8(rows, cols int) []byte {
	pixels := make([]byte, rows*cols)
	for i := range pixels {
		pixels[i] = byte(i * 255 / max(len(pixels)-1, 1))
	}
	return pixels
}

// Samples16 encodes 16-bit samples in the given byte order.
func Samples16(order binary.ByteOrder, samples ...uint16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		order.PutUint16(out[2*i:], s)
	}
	return out
}

// MonochromeMR is a complete 4x4 8-bit MONOCHROME2 MR file.
func MonochromeMR() []byte {
	return New().Study().Image(4, 4, 8, "MONOCHROME2").PixelData("OW", Gradient8(4, 4)).Build()
}

// LosslessMR carries JPEG lossless fragments the renderer cannot decode.
func LosslessMR() []byte {
	return New().
		TransferSyntax(dicom.JPEGLosslessSV1).
		Study().
		Image(4, 4, 8, "MONOCHROME2").
		Encapsulated([]byte{0xFF, 0xD8, 0xFF, 0xC3, 0x00, 0x00}).
		Build()
}
