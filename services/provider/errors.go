package provider

import "fmt"

// UploadError indicates the image upload call failed or returned no search id.
type UploadError struct {
	Reason string
	Err    error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("upload failed: %s", e.Reason)
}

func (e *UploadError) Unwrap() error { return e.Err }

// SearchError carries a provider-reported failure. The message is surfaced
// to the user verbatim.
type SearchError struct {
	Message string
}

func (e *SearchError) Error() string { return e.Message }
