// Package reader decodes DICOM files into datasets.
//
// Decoding never panics and never returns a bare nil: every call yields a
// Result holding either the dataset or the reason it could not be decoded, so
// a batch can skip one bad file and carry on with the rest.
package reader

import (
	"errors"
	"fmt"

	"github.com/suyashkumar/dicom"
)

// ErrDecode wraps every failure to turn a file into a dataset.
var ErrDecode = errors.New("dicom decode failed")

// Result is the outcome of reading one file
type Result struct {
	// Path is the file that was read
	Path string

	// Dataset is set when decoding succeeded
	Dataset *dicom.Dataset

	// Err is set when decoding failed and wraps ErrDecode
	Err error
}

// OK reports whether the file was decoded
func (r Result) OK() bool {
	return r.Err == nil && r.Dataset != nil
}

// Read decodes the DICOM file at path.
func Read(path string) Result {
	ds, err := safelyParseFile(path)
	if err != nil {
		return Result{Path: path, Err: fmt.Errorf("%w: %s: %v", ErrDecode, path, err)}
	}
	return Result{Path: path, Dataset: &ds}
}

// safelyParseFile turns panics raised inside the codec into errors.
func safelyParseFile(path string) (ds dicom.Dataset, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	return dicom.ParseFile(path, nil)
}
