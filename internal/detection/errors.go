package detection

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Use errors.Is to classify a failure returned by this package
// or by the evaluation workflow.
var (
	ErrMissingInputFile   = errors.New("missing input file")
	ErrFileFormat         = errors.New("malformed input file")
	ErrCapacityExceeded   = errors.New("too many boxes in sample")
	ErrSampleSetMismatch  = errors.New("sample sets differ")
	ErrUnsupportedFeature = errors.New("unsupported feature")
)

// FileFormatError reports an input file that could not be decoded into the
// expected schema.
type FileFormatError struct {
	Path string
	Err  error
}

func (e *FileFormatError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Path, ErrFileFormat, e.Err)
}

func (e *FileFormatError) Is(target error) bool { return target == ErrFileFormat }

func (e *FileFormatError) Unwrap() error { return e.Err }

// CapacityError reports a sample holding more boxes than the configured cap.
type CapacityError struct {
	Path        string
	SampleToken string
	Count       int
	Max         int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: sample %s has %d boxes, max %d", e.Path, e.SampleToken, e.Count, e.Max)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// SampleSetMismatchError reports prediction and ground-truth collections
// that do not cover the same samples.
type SampleSetMismatchError struct {
	Path                 string
	MissingInPredictions []string
	MissingInGroundTruth []string
}

func (e *SampleSetMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: samples in result file do not match the ground truth", e.Path)
	if n := len(e.MissingInPredictions); n > 0 {
		fmt.Fprintf(&b, "; %d missing from predictions (first %s)", n, e.MissingInPredictions[0])
	}
	if n := len(e.MissingInGroundTruth); n > 0 {
		fmt.Fprintf(&b, "; %d not in ground truth (first %s)", n, e.MissingInGroundTruth[0])
	}
	return b.String()
}

func (e *SampleSetMismatchError) Unwrap() error { return ErrSampleSetMismatch }
