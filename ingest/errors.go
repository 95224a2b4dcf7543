package ingest

import "errors"

// errUploadAborted indicates the client closed the WebSocket before
// sending all declared bytes.
var errUploadAborted = errors.New("ingest: upload aborted by client")
