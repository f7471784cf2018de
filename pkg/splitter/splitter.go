// Package splitter unpacks a multi-frame DICOM dataset into one single-frame
// DICOM file per frame.
package splitter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomunpack/internal/models"
)

// DefaultNameWidth is the zero padding of slice indices in file names.
// Widths grow past it when a dataset has more frames than fit.
const DefaultNameWidth = 3

const explicitVRBigEndian = "1.2.840.10008.1.2.2"

var (
	// ErrNoPixelData is returned for datasets without a PixelData element
	ErrNoPixelData = errors.New("dataset has no pixel data")

	// ErrFrameMismatch is returned when the declared NumberOfFrames does not
	// match the frames decoded from PixelData
	ErrFrameMismatch = errors.New("frame count does not match pixel data")
)

// Params configures a Splitter
type Params struct {
	// Extension is stripped from the output base path to name the slice
	// directory, e.g. "dcm"
	Extension string

	// NameWidth is the minimum zero padding of slice indices
	NameWidth int
}

// Splitter writes one single-frame file per frame of a dataset
type Splitter struct {
	params Params
}

// NewSplitter creates a splitter. Zero values in params take defaults.
func NewSplitter(params Params) *Splitter {
	if params.NameWidth <= 0 {
		params.NameWidth = DefaultNameWidth
	}
	params.Extension = strings.TrimPrefix(params.Extension, ".")
	return &Splitter{params: params}
}

// OutputDir returns the slice directory for an output base path.
func (s *Splitter) OutputDir(outputBase string) string {
	if s.params.Extension == "" {
		return outputBase
	}
	suffix := "." + s.params.Extension
	if len(outputBase) > len(suffix) && strings.EqualFold(outputBase[len(outputBase)-len(suffix):], suffix) {
		return outputBase[:len(outputBase)-len(suffix)]
	}
	return outputBase
}

// SliceName returns the file name of slice index out of total slices.
func SliceName(index, total, minWidth int) string {
	width := minWidth
	if n := len(strconv.Itoa(total - 1)); total > 0 && n > width {
		width = n
	}
	return fmt.Sprintf("slice_%0*d.dcm", width, index)
}

// Split writes every frame of ds to its own file under the directory derived
// from outputBase. The input dataset is left unchanged; each slice shares all
// elements with it except PixelData and NumberOfFrames.
//
// Errors are returned as they happen; slices already written stay on disk.
func (s *Splitter) Split(ds *dicom.Dataset, outputBase string) ([]models.Slice, error) {
	pixelElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, ErrNoPixelData
	}
	info, ok := pixelElem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected value type %T", ErrNoPixelData, pixelElem.Value.GetValue())
	}
	if len(info.Frames) == 0 {
		return nil, fmt.Errorf("%w: no decoded frames", ErrNoPixelData)
	}

	total := len(info.Frames)
	if declared, ok := declaredFrames(ds); ok && declared != total {
		return nil, fmt.Errorf("%w: NumberOfFrames is %d, decoded %d", ErrFrameMismatch, declared, total)
	}
	rows, cols := geometry(ds)

	dir := s.OutputDir(outputBase)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create slice directory: %w", err)
	}

	oneFrame, err := numberOfFramesElement(ds)
	if err != nil {
		return nil, err
	}

	order := byteOrder(ds)
	slices := make([]models.Slice, 0, total)
	for i := range info.Frames {
		framePixels, err := framePixelData(pixelElem, info, i, order)
		if err != nil {
			return slices, fmt.Errorf("failed to build pixel data for frame %d: %w", i, err)
		}

		path := filepath.Join(dir, SliceName(i, total, s.params.NameWidth))
		if err := writeDataset(path, withFrame(ds, framePixels, oneFrame)); err != nil {
			return slices, fmt.Errorf("failed to write slice %d: %w", i, err)
		}

		slices = append(slices, models.Slice{
			Index:        i,
			Path:         path,
			Rows:         rows,
			Cols:         cols,
			Encapsulated: info.IsEncapsulated,
		})
	}

	return slices, nil
}

// framePixelData builds the PixelData element of a slice holding frame i.
// Native frames are re-encoded to raw bytes padded to even length, since the
// codec writes native pixel data unpadded and rejects odd value lengths.
func framePixelData(pixelElem *dicom.Element, info dicom.PixelDataInfo, i int, order binary.AppendByteOrder) (*dicom.Element, error) {
	single := dicom.PixelDataInfo{IsEncapsulated: info.IsEncapsulated}
	length := pixelElem.ValueLength
	if info.IsEncapsulated {
		single.Frames = info.Frames[i : i+1]
	} else {
		raw, err := nativeBytes(info.Frames[i], order)
		if err != nil {
			return nil, err
		}
		single.IntentionallyUnprocessed = true
		single.UnprocessedValueData = raw
		length = uint32(len(raw))
	}

	value, err := dicom.NewValue(single)
	if err != nil {
		return nil, err
	}
	return &dicom.Element{
		Tag:                    pixelElem.Tag,
		ValueRepresentation:    pixelElem.ValueRepresentation,
		RawValueRepresentation: pixelElem.RawValueRepresentation,
		ValueLength:            length,
		Value:                  value,
	}, nil
}

// nativeBytes encodes one native frame the way it is stored in PixelData,
// with a trailing zero byte when the length is odd.
func nativeBytes(f *frame.Frame, order binary.AppendByteOrder) ([]byte, error) {
	native, err := f.GetNativeFrame()
	if err != nil {
		return nil, err
	}

	var raw []byte
	switch native.BitsPerSample {
	case 1:
		raw = packBits(native.Data)
	case 8, 16, 32:
		width := native.BitsPerSample / 8
		samples := 0
		if len(native.Data) > 0 {
			samples = len(native.Data[0])
		}
		raw = make([]byte, 0, len(native.Data)*samples*width+1)
		for _, pixel := range native.Data {
			for _, v := range pixel {
				switch width {
				case 1:
					raw = append(raw, uint8(v))
				case 2:
					raw = order.AppendUint16(raw, uint16(v))
				case 4:
					raw = order.AppendUint32(raw, uint32(v))
				}
			}
		}
	default:
		return nil, fmt.Errorf("unsupported bits per sample: %d", native.BitsPerSample)
	}

	if len(raw)%2 == 1 {
		raw = append(raw, 0)
	}
	return raw, nil
}

// packBits packs 1-bit samples, most significant bit first, matching the
// order the codec unpacks them in.
func packBits(data [][]int) []byte {
	var raw []byte
	n := 0
	for _, pixel := range data {
		for _, v := range pixel {
			if n%8 == 0 {
				raw = append(raw, 0)
			}
			if v != 0 {
				raw[len(raw)-1] |= 0x80 >> (n % 8)
			}
			n++
		}
	}
	return raw
}

// byteOrder returns the byte order of the dataset's transfer syntax.
func byteOrder(ds *dicom.Dataset) binary.AppendByteOrder {
	e, err := ds.FindElementByTag(tag.TransferSyntaxUID)
	if err != nil {
		return binary.LittleEndian
	}
	values, ok := e.Value.GetValue().([]string)
	if ok && len(values) > 0 && strings.TrimRight(values[0], "\x00 ") == explicitVRBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// withFrame returns a shallow copy of ds with PixelData and NumberOfFrames
// replaced. NumberOfFrames is inserted in tag order when ds has none.
func withFrame(ds *dicom.Dataset, pixels, numFrames *dicom.Element) dicom.Dataset {
	elems := make([]*dicom.Element, 0, len(ds.Elements)+1)
	inserted := false
	for _, e := range ds.Elements {
		switch {
		case e.Tag == tag.NumberOfFrames:
			if !inserted {
				elems = append(elems, numFrames)
				inserted = true
			}
			continue
		case !inserted && tagLess(tag.NumberOfFrames, e.Tag):
			elems = append(elems, numFrames)
			inserted = true
		}
		if e.Tag == tag.PixelData {
			elems = append(elems, pixels)
			continue
		}
		elems = append(elems, e)
	}
	if !inserted {
		elems = append(elems, numFrames)
	}
	return dicom.Dataset{Elements: elems}
}

// numberOfFramesElement builds the NumberOfFrames=1 element, keeping the
// VR of an existing element.
func numberOfFramesElement(ds *dicom.Dataset) (*dicom.Element, error) {
	value, err := dicom.NewValue([]string{"1"})
	if err != nil {
		return nil, err
	}
	if existing, err := ds.FindElementByTag(tag.NumberOfFrames); err == nil {
		return &dicom.Element{
			Tag:                    existing.Tag,
			ValueRepresentation:    existing.ValueRepresentation,
			RawValueRepresentation: existing.RawValueRepresentation,
			Value:                  value,
		}, nil
	}
	return dicom.NewElement(tag.NumberOfFrames, []string{"1"})
}

func writeDataset(path string, ds dicom.Dataset) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	// Elements are copied from a decoded file, so their VRs are the ones the
	// source declared; PixelData may legitimately be OB or OW.
	return dicom.Write(f, ds, dicom.SkipVRVerification())
}

func declaredFrames(ds *dicom.Dataset) (int, bool) {
	e, err := ds.FindElementByTag(tag.NumberOfFrames)
	if err != nil {
		return 0, false
	}
	values, ok := e.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil {
		return 0, false
	}
	return n, true
}

func geometry(ds *dicom.Dataset) (rows, cols int) {
	return firstInt(ds, tag.Rows), firstInt(ds, tag.Columns)
}

func firstInt(ds *dicom.Dataset, t tag.Tag) int {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return 0
	}
	values, ok := e.Value.GetValue().([]int)
	if !ok || len(values) == 0 {
		return 0
	}
	return values[0]
}

func tagLess(a, b tag.Tag) bool {
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	return a.Element < b.Element
}
