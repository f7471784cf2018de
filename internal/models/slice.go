package models

// Slice describes one single-frame DICOM file written by the splitter
type Slice struct {
	// Index is the position of the frame in the original frame stack
	Index int

	// Path is the file the slice was written to
	Path string

	// Rows and Cols are the frame dimensions in pixels
	Rows int
	Cols int

	// Encapsulated is true when the frame carries compressed pixel data
	Encapsulated bool
}

// Volume describes a multi-frame source file and the slices produced from it
type Volume struct {
	// Source is the input DICOM file
	Source string

	// Dir is the directory holding the slices
	Dir string

	// NumberOfFrames is the frame count decoded from the source
	NumberOfFrames int

	// Slices are the written slices in acquisition order
	Slices []Slice
}
