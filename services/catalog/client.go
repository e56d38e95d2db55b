package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"telecine/models"
)

const defaultBaseURL = "https://api.tvmaze.com"

// Client is a minimal TVmaze client used to enrich scanned shows with
// overview, poster, and premiere date. TVmaze needs no API key, which suits
// a desktop app with no account setup.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient builds a catalog client. An empty baseURL uses the public TVmaze
// API; tests point it at an httptest server.
func NewClient(baseURL string, httpc *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpc: httpc}
}

type showResult struct {
	Name      string `json:"name"`
	Premiered string `json:"premiered"`
	Summary   string `json:"summary"`
	Image     struct {
		Medium   string `json:"medium"`
		Original string `json:"original"`
	} `json:"image"`
}

// Enrich fills in overview, poster, and premiere for a scanned show by name.
// Fields already set are kept; a show TVmaze does not know stays untouched.
func (c *Client) Enrich(ctx context.Context, show *models.Show) error {
	result, err := c.lookup(ctx, show.Name)
	if err != nil {
		return err
	}
	if result == nil {
		log.Printf("[catalog] no match for %q", show.Name)
		return nil
	}

	if show.Overview == "" {
		show.Overview = stripTags(result.Summary)
	}
	if show.Poster == "" {
		if result.Image.Original != "" {
			show.Poster = result.Image.Original
		} else {
			show.Poster = result.Image.Medium
		}
	}
	if show.Premiere == "" {
		show.Premiere = result.Premiered
	}
	return nil
}

// lookup queries the singlesearch endpoint with retries on transient
// failures. A 404 means no match and is not retried.
func (c *Client) lookup(ctx context.Context, name string) (*showResult, error) {
	endpoint := fmt.Sprintf("%s/singlesearch/shows?q=%s", c.baseURL, url.QueryEscape(name))

	var result *showResult
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := c.httpc.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return nil
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				io.Copy(io.Discard, resp.Body)
				return fmt.Errorf("catalog lookup %q: status %d", name, resp.StatusCode)
			case resp.StatusCode != http.StatusOK:
				io.Copy(io.Discard, resp.Body)
				return retry.Unrecoverable(fmt.Errorf("catalog lookup %q: status %d", name, resp.StatusCode))
			}

			var r showResult
			if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode catalog response: %w", err))
			}
			result = &r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// stripTags removes the simple HTML markup TVmaze wraps summaries in.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
