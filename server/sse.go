package server

import (
	"fmt"
	"net/http"
)

// sseStream writes Server-Sent Events frames. Each frame is
// "event: <type>\ndata: <json>\n\n" and is flushed immediately so proxies
// and clients see events as they happen.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseStream{w: w, flusher: flusher}, nil
}

func (s *sseStream) send(event string, data []byte) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// done terminates the stream with the sentinel frame.
func (s *sseStream) done() {
	// Best effort; the client may already be gone.
	_ = s.send("done", []byte("{}"))
}
