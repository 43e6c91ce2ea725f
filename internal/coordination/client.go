// Package coordination implements the agent's minimal membership in a
// distributed peer directory: an announce POST on startup and a removal
// POST on shutdown. The directory is optional and unreachable peers are
// never fatal — the agent keeps operating locally.
package coordination

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reiase/probing/internal/log"
)

// Member is the record an agent registers with the peer directory.
type Member struct {
	PID      int    `json:"pid"`
	Rank     int    `json:"rank"`
	Endpoint string `json:"endpoint"`
}

// Client posts membership changes to the configured directory.
type Client struct {
	directoryURL string
	httpClient   *http.Client
}

// NewClient builds a Client for directoryURL. An empty URL yields a nil
// client; every method on a nil Client is a no-op, so callers need no
// is-configured branching.
func NewClient(directoryURL string) *Client {
	if directoryURL == "" {
		return nil
	}
	return &Client{
		directoryURL: strings.TrimRight(directoryURL, "/"),
		httpClient:   &http.Client{Timeout: 3 * time.Second},
	}
}

// FromEnviron builds a Client from PROBING_CLUSTER_DIRECTORY.
func FromEnviron() *Client {
	return NewClient(os.Getenv("PROBING_CLUSTER_DIRECTORY"))
}

// Rank returns this process's rank in the distributed job, from the
// launcher-provided RANK variable, or 0 when standalone.
func Rank() int {
	if v := os.Getenv("RANK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// Announce registers m with the directory. Failures are logged at warn
// and swallowed.
func (c *Client) Announce(ctx context.Context, m Member) {
	if c == nil {
		return
	}
	if err := c.post(ctx, c.directoryURL+"/members", m); err != nil {
		log.Warn("peer directory announce failed",
			zap.String("directory", c.directoryURL), zap.Error(err))
	}
}

// Withdraw removes m from the directory on shutdown.
func (c *Client) Withdraw(ctx context.Context, m Member) {
	if c == nil {
		return
	}
	if err := c.post(ctx, c.directoryURL+"/members/remove", m); err != nil {
		log.Warn("peer directory withdraw failed",
			zap.String("directory", c.directoryURL), zap.Error(err))
	}
}

// Members reads the directory's current membership; the CLI's `cluster
// attach` connects to each returned endpoint.
func (c *Client) Members(ctx context.Context) ([]Member, error) {
	if c == nil {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.directoryURL+"/members", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []Member
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, url string, m Member) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
