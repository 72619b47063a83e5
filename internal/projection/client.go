package projection

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Additional-Code/bono/internal/dto"
	"github.com/Additional-Code/bono/internal/presentation/http/response"
	"github.com/Additional-Code/bono/internal/realtime"
)

// Client talks to the bono HTTP API on behalf of a board.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client. A nil httpClient uses one without timeout so
// event streams stay open.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// FetchActive returns every batch the kitchen board shows.
func (c *Client) FetchActive(ctx context.Context) ([]dto.BatchResponse, error) {
	res, err := c.get(ctx, "/orders/active", "application/json")
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	batches := []dto.BatchResponse{}
	env := response.Envelope{Data: &batches}
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode active orders: %w", err)
	}
	if res.StatusCode != http.StatusOK || !env.Success {
		if env.Error != nil {
			return nil, fmt.Errorf("fetch active orders: %d %s: %s", res.StatusCode, env.Error.Code, env.Error.Message)
		}
		return nil, fmt.Errorf("fetch active orders: status %d", res.StatusCode)
	}
	return batches, nil
}

// Stream follows /events and calls fn for every event until the stream ends
// or ctx is cancelled. connected runs once the server accepted the stream,
// which happens after its subscription is in place. It always returns a
// non-nil error.
func (c *Client) Stream(ctx context.Context, connected func(), fn func(realtime.Event)) error {
	res, err := c.get(ctx, "/events", "text/event-stream")
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("open event stream: status %d", res.StatusCode)
	}
	if connected != nil {
		connected()
	}
	if err := ReadEvents(res.Body, fn); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return io.ErrUnexpectedEOF
}

func (c *Client) get(ctx context.Context, path, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return res, nil
}

// ReadEvents parses server-sent event frames from r. Comment lines and
// frames whose data is not an event envelope are skipped.
func ReadEvents(r io.Reader, fn func(realtime.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				var ev realtime.Event
				if err := json.Unmarshal([]byte(strings.Join(data, "\n")), &ev); err == nil {
					fn(ev)
				}
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
