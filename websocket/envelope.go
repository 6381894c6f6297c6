package websocket

// Head tags shared by both REST envelope codecs (spec.md §3): "request"
// for a request (client→server, or server→client for a callback),
// "answer" for the reply to it. Decoding matches case-insensitively.
const (
	headRequest = "request"
	headAnswer  = "answer"
)
