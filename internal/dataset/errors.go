package dataset

import "errors"

var (
	// ErrEmpty indicates a source with no data rows.
	ErrEmpty = errors.New("dataset: no observations")

	// ErrUnknownColumn indicates a column name that is not in the table.
	ErrUnknownColumn = errors.New("dataset: unknown column")

	// ErrLength indicates a replacement column of the wrong length.
	ErrLength = errors.New("dataset: column length mismatch")

	// ErrFetch indicates a remote source that could not be downloaded.
	ErrFetch = errors.New("dataset: fetch failed")
)
