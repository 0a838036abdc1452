package dicom

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"

	sdicom "github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	preambleLen = 128
	magic       = "DICM"
	// (0002,0000) UL: tag, VR, 16-bit length and a 32-bit value.
	groupLengthElementLen = 12
)

// HasPart10Header reports whether data starts with the 128-byte preamble
// followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < preambleLen+len(magic) {
		return false
	}
	return string(data[preambleLen:preambleLen+len(magic)]) == magic
}

// Parse reads a Part 10 file. Only a missing preamble/magic, a broken file
// meta group or an unreadable deflated body make it fail; a damaged dataset
// yields whatever elements precede the damage, with the cause in Err.
func Parse(data []byte) (ds *Dataset, err error) {
	if len(data) < preambleLen+len(magic) {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrMalformedImageFile, preambleLen+len(magic), len(data))
	}
	if !HasPart10Header(data) {
		return nil, fmt.Errorf("%w: missing %s prefix at offset %d", ErrMalformedImageFile, magic, preambleLen)
	}

	defer func() {
		if r := recover(); r != nil {
			ds, err = nil, fmt.Errorf("%w: %v", ErrMalformedImageFile, r)
		}
	}()

	body, err := inflateBody(data)
	if err != nil {
		return nil, err
	}

	parsed, parseErr := sdicom.Parse(bytes.NewReader(body), int64(len(body)), nil, sdicom.AllowMismatchPixelDataLength())
	if len(parsed.Elements) == 0 {
		if parseErr == nil {
			parseErr = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: file meta information: %v", ErrMalformedImageFile, parseErr)
	}

	ds = &Dataset{raw: parsed, Err: parseErr}
	ds.TransferSyntaxUID = ds.String(tag.TransferSyntaxUID)
	if ds.TransferSyntaxUID == "" {
		ds.TransferSyntaxUID = ExplicitVRLittleEndian
	}
	ds.PixelData = pixelData(parsed)
	return ds, nil
}

// metaEnd is the offset of the first dataset byte, taken from the file meta
// group length. ok is false when the group does not start with one.
func metaEnd(data []byte) (end int, ok bool) {
	start := preambleLen + len(magic)
	if len(data) < start+groupLengthElementLen {
		return 0, false
	}
	header := data[start:]
	if binary.LittleEndian.Uint16(header) != 0x0002 || binary.LittleEndian.Uint16(header[2:]) != 0x0000 || string(header[4:6]) != "UL" {
		return 0, false
	}
	return start + groupLengthElementLen + int(binary.LittleEndian.Uint32(header[8:])), true
}

// inflateBody returns data unchanged unless the file meta information
// declares the deflated transfer syntax. In that case the dataset is
// inflated and put back behind the original meta group, which the library
// then reads as explicit VR little endian.
func inflateBody(data []byte) ([]byte, error) {
	end, ok := metaEnd(data)
	if !ok {
		return data, nil
	}
	if end > len(data) {
		return nil, fmt.Errorf("%w: file meta information needs %d bytes, got %d", ErrMalformedImageFile, end, len(data))
	}

	meta, err := sdicom.Parse(bytes.NewReader(data[:end]), int64(end), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: file meta information: %v", ErrMalformedImageFile, err)
	}
	if (&Dataset{raw: meta}).String(tag.TransferSyntaxUID) != DeflatedExplicitVRLittleEndian {
		return data, nil
	}

	inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(data[end:])))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate dataset: %v", ErrMalformedImageFile, err)
	}
	body := make([]byte, 0, end+len(inflated))
	body = append(body, data[:end]...)
	return append(body, inflated...), nil
}

func pixelData(parsed sdicom.Dataset) *PixelData {
	el, err := parsed.FindElementByTag(tag.PixelData)
	if err != nil || el.Value == nil {
		return nil
	}
	info, ok := el.Value.GetValue().(sdicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil
	}

	pixels := &PixelData{Encapsulated: info.IsEncapsulated}
	if pixels.Encapsulated {
		for _, f := range info.Frames {
			pixels.Fragments = append(pixels.Fragments, f.EncapsulatedData.Data)
		}
		return pixels
	}
	first := info.Frames[0]
	for _, sample := range first.NativeData.Data {
		pixels.Samples = append(pixels.Samples, sample...)
	}
	return pixels
}
