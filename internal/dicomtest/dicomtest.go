// Package dicomtest writes small explicit VR little endian DICOM files for
// tests and reads raw element values back out of them.
package dicomtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ExplicitVRLittleEndian is the transfer syntax of every fixture.
const ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

// MRImageStorage is the SOP class written into fixtures.
const MRImageStorage = "1.2.840.10008.5.1.4.1.1.4"

// Tag numbers read back by tests.
const (
	TagNumberOfFrames uint32 = 0x00280008
	TagRows           uint32 = 0x00280010
	TagColumns        uint32 = 0x00280011
	TagPatientName    uint32 = 0x00100010
	TagPatientID      uint32 = 0x00100020
	TagPixelData      uint32 = 0x7fe00010
)

// longVRs use a 2 byte reserved field and a 4 byte length.
var longVRs = map[string]bool{
	"OB": true, "OD": true, "OF": true, "OL": true, "OV": true, "OW": true,
	"SQ": true, "SV": true, "UC": true, "UN": true, "UR": true, "UT": true, "UV": true,
}

// Fixture describes a monochrome image stack. Frames hold the stored bytes
// of each plane, little endian for 16-bit samples.
type Fixture struct {
	Rows, Cols  int
	Frames      [][]byte
	PatientName string
	PatientID   string

	// BitsAllocated is 8 or 16; zero means 8.
	BitsAllocated int

	// OmitNumberOfFrames leaves the NumberOfFrames element out, as
	// single-frame files usually do.
	OmitNumberOfFrames bool

	// DeclaredFrames overrides the NumberOfFrames value when non-zero.
	DeclaredFrames int
}

// Planes returns n frames of rows*cols bytes counting up from 1.
func Planes(n, rows, cols int) [][]byte {
	frames := make([][]byte, n)
	v := 1
	for i := range frames {
		frames[i] = make([]byte, rows*cols)
		for j := range frames[i] {
			frames[i][j] = byte(v)
			v++
		}
	}
	return frames
}

// Planes16 returns n frames of rows*cols little endian 16-bit samples.
// Sample k of the stack holds 1000+257*k, so both bytes vary.
func Planes16(n, rows, cols int) [][]byte {
	frames := make([][]byte, n)
	k := 0
	for i := range frames {
		frames[i] = make([]byte, 0, 2*rows*cols)
		for j := 0; j < rows*cols; j++ {
			frames[i] = binary.LittleEndian.AppendUint16(frames[i], uint16(1000+257*k))
			k++
		}
	}
	return frames
}

func (f Fixture) defaults() (name, id string, declared, bits int) {
	name, id, declared, bits = f.PatientName, f.PatientID, f.DeclaredFrames, f.BitsAllocated
	if name == "" {
		name = "Test^Patient"
	}
	if id == "" {
		id = "PID001"
	}
	if declared == 0 {
		declared = len(f.Frames)
	}
	if bits == 0 {
		bits = 8
	}
	return name, id, declared, bits
}

// Encode returns the fixture as a DICOM Part 10 file.
func (f Fixture) Encode() []byte {
	name, id, declared, bits := f.defaults()

	var meta bytes.Buffer
	writeElement(&meta, 0x0002, 0x0001, "OB", []byte{0x00, 0x01})
	writeElement(&meta, 0x0002, 0x0002, "UI", uid(MRImageStorage))
	writeElement(&meta, 0x0002, 0x0003, "UI", uid("1.2.826.0.1.3680043.2.1125.1"))
	writeElement(&meta, 0x0002, 0x0010, "UI", uid(ExplicitVRLittleEndian))
	writeElement(&meta, 0x0002, 0x0012, "UI", uid("1.2.826.0.1.3680043.2.1125"))

	var out bytes.Buffer
	out.Write(make([]byte, 128))
	out.WriteString("DICM")
	groupLength := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLength, uint32(meta.Len()))
	writeElement(&out, 0x0002, 0x0000, "UL", groupLength)
	out.Write(meta.Bytes())

	writeElement(&out, 0x0008, 0x0016, "UI", uid(MRImageStorage))
	writeElement(&out, 0x0008, 0x0018, "UI", uid("1.2.826.0.1.3680043.2.1125.1"))
	writeElement(&out, 0x0008, 0x0060, "CS", text("MR"))
	writeElement(&out, 0x0010, 0x0010, "PN", text(name))
	writeElement(&out, 0x0010, 0x0020, "LO", text(id))
	writeElement(&out, 0x0028, 0x0002, "US", us(1))
	writeElement(&out, 0x0028, 0x0004, "CS", text("MONOCHROME2"))
	if !f.OmitNumberOfFrames {
		writeElement(&out, 0x0028, 0x0008, "IS", text(strconv.Itoa(declared)))
	}
	writeElement(&out, 0x0028, 0x0010, "US", us(f.Rows))
	writeElement(&out, 0x0028, 0x0011, "US", us(f.Cols))
	writeElement(&out, 0x0028, 0x0100, "US", us(bits))
	writeElement(&out, 0x0028, 0x0101, "US", us(bits))
	writeElement(&out, 0x0028, 0x0102, "US", us(bits-1))
	writeElement(&out, 0x0028, 0x0103, "US", us(0))

	var pixels []byte
	for _, plane := range f.Frames {
		pixels = append(pixels, plane...)
	}
	if len(pixels)%2 != 0 {
		pixels = append(pixels, 0)
	}
	writeElement(&out, 0x7fe0, 0x0010, pixelVR(bits), pixels)
	return out.Bytes()
}

// Dataset builds the fixture from the codec's own element constructors.
func (f Fixture) Dataset() (dicom.Dataset, error) {
	name, id, declared, bits := f.defaults()

	frames := make([]*frame.Frame, len(f.Frames))
	for i, plane := range f.Frames {
		native := frame.NativeFrame{Rows: f.Rows, Cols: f.Cols, BitsPerSample: bits}
		for j := 0; j < f.Rows*f.Cols; j++ {
			v := int(plane[j])
			if bits == 16 {
				v = int(binary.LittleEndian.Uint16(plane[2*j:]))
			}
			native.Data = append(native.Data, []int{v})
		}
		frames[i] = &frame.Frame{NativeData: native}
	}

	values := []struct {
		tag  tag.Tag
		data interface{}
	}{
		{tag.FileMetaInformationVersion, []byte{0x00, 0x01}},
		{tag.MediaStorageSOPClassUID, []string{MRImageStorage}},
		{tag.MediaStorageSOPInstanceUID, []string{"1.2.826.0.1.3680043.2.1125.1"}},
		{tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian}},
		{tag.ImplementationClassUID, []string{"1.2.826.0.1.3680043.2.1125"}},
		{tag.SOPClassUID, []string{MRImageStorage}},
		{tag.SOPInstanceUID, []string{"1.2.826.0.1.3680043.2.1125.1"}},
		{tag.Modality, []string{"MR"}},
		{tag.PatientName, []string{name}},
		{tag.PatientID, []string{id}},
		{tag.SamplesPerPixel, []int{1}},
		{tag.PhotometricInterpretation, []string{"MONOCHROME2"}},
		{tag.NumberOfFrames, []string{strconv.Itoa(declared)}},
		{tag.Rows, []int{f.Rows}},
		{tag.Columns, []int{f.Cols}},
		{tag.BitsAllocated, []int{bits}},
		{tag.BitsStored, []int{bits}},
		{tag.HighBit, []int{bits - 1}},
		{tag.PixelRepresentation, []int{0}},
		{tag.PixelData, dicom.PixelDataInfo{Frames: frames}},
	}

	var ds dicom.Dataset
	for _, v := range values {
		if v.tag == tag.NumberOfFrames && f.OmitNumberOfFrames {
			continue
		}
		e, err := dicom.NewElement(v.tag, v.data)
		if err != nil {
			return dicom.Dataset{}, fmt.Errorf("%v: %w", v.tag, err)
		}
		if v.tag == tag.PixelData {
			e.RawValueRepresentation = pixelVR(bits)
		}
		ds.Elements = append(ds.Elements, e)
	}
	return ds, nil
}

// WriteWithCodec writes the fixture through the codec's writer instead of
// the byte encoder. The codec writes native pixel data unpadded, so frames
// of an odd total byte length cannot be written this way.
func (f Fixture) WriteWithCodec(path string) (err error) {
	ds, err := f.Dataset()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	return dicom.Write(out, ds, dicom.SkipVRVerification())
}

// Write encodes the fixture to path, creating parent directories.
func (f Fixture) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, f.Encode(), 0644)
}

// ReadElements returns the raw value of every top-level element of an
// explicit VR little endian file with defined lengths, keyed by
// group<<16|element.
func ReadElements(path string) (map[uint32][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 132 || string(data[128:132]) != "DICM" {
		return nil, fmt.Errorf("%s: missing DICM preamble", path)
	}

	elements := make(map[uint32][]byte)
	pos := 132
	for pos+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[pos:])
		element := binary.LittleEndian.Uint16(data[pos+2:])
		vr := string(data[pos+4 : pos+6])
		var length int
		if longVRs[vr] {
			if pos+12 > len(data) {
				return nil, fmt.Errorf("%s: truncated header at offset %d", path, pos)
			}
			l := binary.LittleEndian.Uint32(data[pos+8:])
			if l == 0xffffffff {
				return nil, fmt.Errorf("%s: undefined length element (%04x,%04x)", path, group, element)
			}
			length = int(l)
			pos += 12
		} else {
			length = int(binary.LittleEndian.Uint16(data[pos+6:]))
			pos += 8
		}
		if pos+length > len(data) {
			return nil, fmt.Errorf("%s: element (%04x,%04x) overruns file", path, group, element)
		}
		elements[uint32(group)<<16|uint32(element)] = data[pos : pos+length]
		pos += length
	}
	return elements, nil
}

// Trim strips DICOM string padding.
func Trim(value []byte) string {
	return string(bytes.TrimRight(value, " \x00"))
}

func writeElement(buf *bytes.Buffer, group, element uint16, vr string, value []byte) {
	binary.Write(buf, binary.LittleEndian, group)
	binary.Write(buf, binary.LittleEndian, element)
	buf.WriteString(vr)
	if longVRs[vr] {
		buf.Write([]byte{0, 0})
		binary.Write(buf, binary.LittleEndian, uint32(len(value)))
	} else {
		binary.Write(buf, binary.LittleEndian, uint16(len(value)))
	}
	buf.Write(value)
}

func pixelVR(bits int) string {
	if bits > 8 {
		return "OW"
	}
	return "OB"
}

func uid(s string) []byte {
	b := []byte(s)
	if len(b)%2 != 0 {
		b = append(b, 0)
	}
	return b
}

func text(s string) []byte {
	b := []byte(s)
	if len(b)%2 != 0 {
		b = append(b, ' ')
	}
	return b
}

func us(v int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return b
}
