package spark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default timeouts for device service calls.
const (
	defaultWriteTimeout = 10 * time.Second
)

// Client writes blocks to Spark device services over HTTP.
//
// Each device service exposes a REST endpoint at {base}/{service}/blocks/write
// that accepts a full block and applies it to the controller. The write is
// synchronous: the service responds once the controller has acknowledged the
// change, and the resulting state flows back asynchronously over the eventbus.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a block write client.
//
// Parameters:
//   - baseURL: Gateway address routing to device services, e.g. "http://eventbus:9000"
//
// Returns:
//   - *Client: Client ready for use (no connection is established up front)
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultWriteTimeout,
		},
	}
}

// WriteBlock sends a full block to its owning device service.
//
// The block must carry both an ID and a ServiceID. The service applies
// the data map to the controller object and returns the resulting block.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - block: Block to write (ID, ServiceID, Type, Data)
//
// Returns:
//   - *Block: The block as the service persisted it
//   - error: ErrInvalidBlock for incomplete input, ErrWriteFailed otherwise
func (c *Client) WriteBlock(ctx context.Context, block *Block) (*Block, error) {
	if block == nil || block.ID == "" || block.ServiceID == "" {
		return nil, fmt.Errorf("%w: id and serviceId are required", ErrInvalidBlock)
	}

	body, err := json.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	url := fmt.Sprintf("%s/%s/blocks/write", c.baseURL, block.ServiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrWriteFailed, block.ServiceID, resp.StatusCode)
	}

	var written Block
	if err := json.NewDecoder(resp.Body).Decode(&written); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrWriteFailed, err)
	}

	return &written, nil
}
