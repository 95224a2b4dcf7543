package models

// WsSessionState is the lifecycle state of a browser-assisted ingest upload.
type WsSessionState string

const (
	WsAwaitingInfo     WsSessionState = "awaiting_info"
	WsAwaitingApproval WsSessionState = "awaiting_approval"
	WsStreaming        WsSessionState = "streaming"
	WsDone             WsSessionState = "done"
	WsFailed           WsSessionState = "failed"
)

// WsFileInfo is the client's declared upload, sent as the first WebSocket message.
type WsFileInfo struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

// WsSession is one ingest upload's server-side state, keyed by its
// single-use URL token.
type WsSession struct {
	URLToken      string
	State         WsSessionState
	FileInfo      WsFileInfo
	ReceivedBytes int64
}
