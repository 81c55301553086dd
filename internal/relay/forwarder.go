package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"checkinbot/internal/domain"
)

// HTTPForwarder posts raw event JSON to the local ingestion endpoint.
type HTTPForwarder struct {
	url    string
	client *http.Client
}

func NewHTTPForwarder(url string) *HTTPForwarder {
	return &HTTPForwarder{url: url, client: &http.Client{Timeout: 30 * time.Second}}
}

func (f *HTTPForwarder) Forward(ctx context.Context, ev domain.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(ev.Raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
