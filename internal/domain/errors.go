package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrSchemaNotFound means the target table does not exist in the warehouse.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrMalformedDate means a DATE column value could not be reparsed.
	ErrMalformedDate = errors.New("malformed date")

	// ErrMalformedValue means an INTEGER, FLOAT or BOOLEAN value could not be converted.
	ErrMalformedValue = errors.New("malformed value")

	// ErrExternalFetchFailed is wrapped by FetchError.
	ErrExternalFetchFailed = errors.New("external fetch failed")

	// ErrInsertPartialFailure is wrapped by InsertError.
	ErrInsertPartialFailure = errors.New("insert partially failed")

	// ErrInsufficientData means the training frame has fewer than two distinct dates.
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrArtifactNotFound means no model or forecast is stored for the key.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrBlobNotFound means the blob store holds nothing under the key.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrInvalidRange means a date range whose start is after its end.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrLocked means another run holds the lock for the same partition or cutoff.
	ErrLocked = errors.New("locked by another run")

	// ErrUnknownTable means a logical table name missing from the source catalog.
	ErrUnknownTable = errors.New("unknown table")
)

// FetchError reports a non-2xx response from the external data source.
type FetchError struct {
	Table      string
	Date       time.Time
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for %s: status %d: %s", e.Table, FormatDate(e.Date), e.StatusCode, e.Body)
}

func (e *FetchError) Unwrap() error { return ErrExternalFetchFailed }

// RowError describes one row the warehouse rejected.
type RowError struct {
	Index   int
	Message string
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s", e.Index, e.Message)
}

// InsertError carries the raw per-row rejections for one day's insert.
type InsertError struct {
	Table string
	Date  time.Time
	Rows  []RowError
}

func (e *InsertError) Error() string {
	details := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		details[i] = r.String()
	}
	return fmt.Sprintf("insert into %s for %s: %d rows rejected: [%s]",
		e.Table, FormatDate(e.Date), len(e.Rows), strings.Join(details, "; "))
}

func (e *InsertError) Unwrap() error { return ErrInsertPartialFailure }
