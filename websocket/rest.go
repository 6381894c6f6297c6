package websocket

import "context"

// RestRequest is the request half of the REST-shaped message an envelope
// codec packs into a single frame (spec.md §3): client→server for an
// inbound request, server→client for a callback.
//
// Headers is carried as a single opaque blob — splitting it into a
// structured header map is a host-side concern outside the engine's core;
// only the fields the codecs actually encode/decode are modeled here.
type RestRequest struct {
	Method      string
	URL         string
	Headers     string
	ContentType string
	Content     []byte
}

// RestResponse is the answer half: server→client for an inbound request,
// client→server for a callback's answer.
type RestResponse struct {
	Status      int
	Headers     string
	ContentType string
	Content     []byte
}

// RestHandler is the host collaborator invoked synchronously by the REST
// adapter for every inbound request frame (spec.md §4.4 step 3).
type RestHandler func(ctx context.Context, req *RestRequest) (*RestResponse, error)
