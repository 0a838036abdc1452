// Package dicomtest builds small synthetic Part 10 files for tests.
package dicomtest

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"sort"

	"patient-imaging-api/dicom"

	"github.com/suyashkumar/dicom/pkg/tag"
)

type element struct {
	tag   tag.Tag
	vr    string
	value []byte
	raw   []byte // pre-encoded element, written verbatim
}

// Builder accumulates elements and renders them with the chosen transfer
// syntax. Elements are written in tag order.
type Builder struct {
	transferSyntax string
	elements       []element
}

func New() *Builder {
	return &Builder{transferSyntax: dicom.ExplicitVRLittleEndian}
}

// TransferSyntax must be set before adding binary values, which are encoded
// in the syntax's byte order as they are added.
func (b *Builder) TransferSyntax(uid string) *Builder {
	b.transferSyntax = uid
	return b
}

func (b *Builder) order() binary.ByteOrder {
	if b.transferSyntax == dicom.ExplicitVRBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (b *Builder) implicit() bool {
	return b.transferSyntax == dicom.ImplicitVRLittleEndian
}

// String adds a text element padded to even length.
func (b *Builder) String(t tag.Tag, vr, value string) *Builder {
	v := []byte(value)
	if len(v)%2 == 1 {
		pad := byte(' ')
		if vr == "UI" {
			pad = 0
		}
		v = append(v, pad)
	}
	b.elements = append(b.elements, element{tag: t, vr: vr, value: v})
	return b
}

func (b *Builder) Uint16(t tag.Tag, value uint16) *Builder {
	v := make([]byte, 2)
	b.order().PutUint16(v, value)
	b.elements = append(b.elements, element{tag: t, vr: "US", value: v})
	return b
}

// Bytes adds an element with a raw value.
func (b *Builder) Bytes(t tag.Tag, vr string, value []byte) *Builder {
	b.elements = append(b.elements, element{tag: t, vr: vr, value: value})
	return b
}

// PixelData adds native pixel data; 16-bit samples are expected in the
// builder's byte order already.
func (b *Builder) PixelData(vr string, pixels []byte) *Builder {
	return b.Bytes(tag.PixelData, vr, pixels)
}

// Encapsulated adds undefined-length pixel data with an empty basic offset
// table and one fragment per frame.
func (b *Builder) Encapsulated(frames ...[]byte) *Builder {
	var buf bytes.Buffer
	order := binary.LittleEndian
	writeTag(&buf, order, tag.PixelData)
	buf.WriteString("OB")
	buf.Write([]byte{0, 0})
	writeUint32(&buf, order, 0xFFFFFFFF)
	writeItem(&buf, order, nil)
	for _, frame := range frames {
		if len(frame)%2 == 1 {
			frame = append(append([]byte{}, frame...), 0)
		}
		writeItem(&buf, order, frame)
	}
	writeTag(&buf, order, tag.Tag{Group: 0xFFFE, Element: 0xE0DD})
	writeUint32(&buf, order, 0)
	b.elements = append(b.elements, element{tag: tag.PixelData, raw: buf.Bytes()})
	return b
}

// Sequence adds an undefined-length sequence holding one undefined-length
// item with a single text element.
func (b *Builder) Sequence(t tag.Tag, inner tag.Tag, vr, value string) *Builder {
	nested := &Builder{transferSyntax: b.transferSyntax}
	nested.String(inner, vr, value)
	order := b.order()

	var buf bytes.Buffer
	writeTag(&buf, order, t)
	if !b.implicit() {
		buf.WriteString("SQ")
		buf.Write([]byte{0, 0})
	}
	writeUint32(&buf, order, 0xFFFFFFFF)
	writeTag(&buf, order, tag.Tag{Group: 0xFFFE, Element: 0xE000})
	writeUint32(&buf, order, 0xFFFFFFFF)
	buf.Write(nested.encodeDataset())
	writeTag(&buf, order, tag.Tag{Group: 0xFFFE, Element: 0xE00D})
	writeUint32(&buf, order, 0)
	writeTag(&buf, order, tag.Tag{Group: 0xFFFE, Element: 0xE0DD})
	writeUint32(&buf, order, 0)
	b.elements = append(b.elements, element{tag: t, raw: buf.Bytes()})
	return b
}

// Build renders preamble, file meta information and dataset.
func (b *Builder) Build() []byte {
	var out bytes.Buffer
	out.Write(make([]byte, 128))
	out.WriteString("DICM")
	out.Write(b.encodeMeta())

	dataset := b.encodeDataset()
	if b.transferSyntax == dicom.DeflatedExplicitVRLittleEndian {
		var deflated bytes.Buffer
		w, _ := flate.NewWriter(&deflated, flate.DefaultCompression)
		w.Write(dataset)
		w.Close()
		dataset = deflated.Bytes()
	}
	out.Write(dataset)
	return out.Bytes()
}

func (b *Builder) encodeMeta() []byte {
	meta := &Builder{transferSyntax: dicom.ExplicitVRLittleEndian}
	meta.Bytes(tag.Tag{Group: 0x0002, Element: 0x0001}, "OB", []byte{0, 1})
	meta.String(tag.Tag{Group: 0x0002, Element: 0x0002}, "UI", "1.2.840.10008.5.1.4.1.1.4")
	meta.String(tag.Tag{Group: 0x0002, Element: 0x0003}, "UI", "1.2.3.4.5.6.7.8.9")
	meta.String(tag.TransferSyntaxUID, "UI", b.transferSyntax)
	body := meta.encodeDataset()

	var out bytes.Buffer
	writeTag(&out, binary.LittleEndian, tag.Tag{Group: 0x0002, Element: 0x0000})
	out.WriteString("UL")
	writeUint16(&out, binary.LittleEndian, 4)
	writeUint32(&out, binary.LittleEndian, uint32(len(body)))
	out.Write(body)
	return out.Bytes()
}

func (b *Builder) encodeDataset() []byte {
	elements := append([]element{}, b.elements...)
	sort.SliceStable(elements, func(i, j int) bool {
		if elements[i].tag.Group != elements[j].tag.Group {
			return elements[i].tag.Group < elements[j].tag.Group
		}
		return elements[i].tag.Element < elements[j].tag.Element
	})

	order := b.order()
	var buf bytes.Buffer
	for _, el := range elements {
		if el.raw != nil {
			buf.Write(el.raw)
			continue
		}
		writeTag(&buf, order, el.tag)
		switch {
		case b.implicit():
			writeUint32(&buf, order, uint32(len(el.value)))
		case isLongVR(el.vr):
			buf.WriteString(el.vr)
			buf.Write([]byte{0, 0})
			writeUint32(&buf, order, uint32(len(el.value)))
		default:
			buf.WriteString(el.vr)
			writeUint16(&buf, order, uint16(len(el.value)))
		}
		buf.Write(el.value)
	}
	return buf.Bytes()
}

func isLongVR(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OV", "OW", "SQ", "SV", "UC", "UN", "UR", "UT", "UV":
		return true
	}
	return false
}

func writeItem(buf *bytes.Buffer, order binary.ByteOrder, value []byte) {
	writeTag(buf, order, tag.Tag{Group: 0xFFFE, Element: 0xE000})
	writeUint32(buf, order, uint32(len(value)))
	buf.Write(value)
}

func writeTag(buf *bytes.Buffer, order binary.ByteOrder, t tag.Tag) {
	writeUint16(buf, order, t.Group)
	writeUint16(buf, order, t.Element)
}

func writeUint16(buf *bytes.Buffer, order binary.ByteOrder, v uint16) {
	b := make([]byte, 2)
	order.PutUint16(b, v)
	buf.Write(b)
}

func writeUint32(buf *bytes.Buffer, order binary.ByteOrder, v uint32) {
	b := make([]byte, 4)
	order.PutUint32(b, v)
	buf.Write(b)
}
