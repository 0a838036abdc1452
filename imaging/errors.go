package imaging

import (
	"errors"
	"fmt"

	"patient-imaging-api/constants"
	"patient-imaging-api/dicom"
	"patient-imaging-api/preview"
)

var (
	ErrEmptyUpload     = errors.New("empty upload")
	ErrUploadTooLarge  = errors.New("upload too large")
	ErrPatientNotFound = errors.New("patient not found")
	ErrPatientLookup   = errors.New("patient lookup failed")
	ErrNotFound        = errors.New("image not found")
	ErrInvalidUpdate   = errors.New("invalid update")
	ErrInvalidFilter   = errors.New("invalid filter")

	// ErrMalformedImageFile and ErrUnsupportedPixelEncoding are re-exported so
	// callers of this package need not import the parser packages.
	ErrMalformedImageFile       = dicom.ErrMalformedImageFile
	ErrUnsupportedPixelEncoding = preview.ErrUnsupportedPixelEncoding
)

// StorageError wraps a failure of the metadata repository or blob store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err came from persistence.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ReasonFor maps an ingest failure to its reason code. Unknown errors are
// reported as storage failures.
func ReasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyUpload):
		return constants.ReasonEmptyUpload
	case errors.Is(err, ErrUploadTooLarge):
		return constants.ReasonUploadTooLarge
	case errors.Is(err, ErrMalformedImageFile):
		return constants.ReasonMalformedImageFile
	case errors.Is(err, ErrUnsupportedPixelEncoding):
		return constants.ReasonUnsupportedPixelEncoding
	case errors.Is(err, ErrPatientNotFound):
		return constants.ReasonPatientNotFound
	case errors.Is(err, ErrPatientLookup):
		return constants.ReasonPatientLookupFailure
	}
	return constants.ReasonStorageFailure
}
