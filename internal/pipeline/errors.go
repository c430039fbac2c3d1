package pipeline

import "errors"

var (
	// ErrEmptyFile is returned when an upload has no content after decoding.
	ErrEmptyFile = errors.New("file is empty")
	// ErrUnsupportedFileType is returned for uploads that are not .csv or .txt
	// text files.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrFileTooLarge is returned when an upload exceeds the configured cap.
	ErrFileTooLarge = errors.New("file too large")
	// ErrTooManyRows is returned when a file has more data rows than allowed.
	ErrTooManyRows = errors.New("too many rows")
	// ErrImportFailed wraps the cause of a finalize that was rolled back.
	ErrImportFailed = errors.New("import failed")
)
