package fetchpool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/linkgraph/crawler/internal/crawl"
)

// workerRequest is one line of the parent-to-worker protocol.
type workerRequest struct {
	URL string `json:"url"`
}

// RunWorker is the worker-process side of the pool protocol: read one JSON
// request per line from r, fetch it, write the JSON result as one line to
// w. It returns when the input stream closes (parent shutdown or kill) or
// the context is cancelled.
func RunWorker(ctx context.Context, r io.Reader, w io.Writer, fetcher crawl.Fetcher) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var req workerRequest
		if err := json.Unmarshal(line, &req); err != nil {
			return fmt.Errorf("decode request: %w", err)
		}
		res := fetcher.Fetch(ctx, req.URL)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}
