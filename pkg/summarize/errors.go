package summarize

import "errors"

// ErrPartialCompletion is returned when WaitForCompletion times out with
// summaries still queued or in flight.
var ErrPartialCompletion = errors.New("summarization did not fully complete in time")
