package opencode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"dilag/internal/logging"
	"dilag/internal/types"
)

const (
	eventBufferSize    = 256
	sseInitialBufBytes = 64 * 1024
	sseMaxLineBytes    = 1024 * 1024
)

// Events opens the server's /event stream. The returned channel is closed
// when the stream ends, the server disconnects, or ctx is canceled; cancel
// closes the stream early. Frames that fail to decode are logged and
// skipped.
func (c *Client) Events(ctx context.Context, directory string) (<-chan types.Event, func(), error) {
	streamCtx, streamCancel := context.WithCancel(ctx)
	path := withDirectory("/event", directory)
	req, err := c.newRequest(streamCtx, http.MethodGet, path, nil)
	if err != nil {
		streamCancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long lived, so it must not inherit the request timeout.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		streamCancel()
		return nil, nil, fmt.Errorf("GET /event: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		streamCancel()
		return nil, nil, responseError(http.MethodGet, "/event", resp)
	}

	out := make(chan types.Event, eventBufferSize)
	go func() {
		defer close(out)
		defer streamCancel()
		defer resp.Body.Close()
		err := readEventStream(resp.Body, func(payload string) bool {
			event, err := types.DecodeEvent([]byte(payload))
			if err != nil {
				c.logger.Debug("opencode_event_decode_failed", logging.Err(err))
				return true
			}
			select {
			case <-streamCtx.Done():
				return false
			case out <- event:
				return true
			}
		})
		if err != nil && streamCtx.Err() == nil {
			c.logger.Debug("opencode_event_stream_ended", logging.Err(err))
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			streamCancel()
			_ = resp.Body.Close()
		})
	}
	return out, cancel, nil
}

// readEventStream splits an SSE body into data payloads. Multiple data
// lines in one frame are joined with newlines. emit returning false stops
// reading.
func readEventStream(body io.Reader, emit func(payload string) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, sseInitialBufBytes), sseMaxLineBytes)
	dataLines := make([]string, 0, 8)
	flush := func() bool {
		if len(dataLines) == 0 {
			return true
		}
		payload := strings.TrimSpace(strings.Join(dataLines, "\n"))
		dataLines = dataLines[:0]
		if payload == "" {
			return true
		}
		return emit(payload)
	}
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			if !flush() {
				return nil
			}
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return io.EOF
}
