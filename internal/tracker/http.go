package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type HTTPGetter struct {
	client *http.Client
}

func NewHTTPGetter(client *http.Client) *HTTPGetter {
	return &HTTPGetter{client: client}
}

// Get fetches url and decodes its JSON body into v.
func (h *HTTPGetter) Get(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	response, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("http error: %s", response.Status)
	}

	if err := json.NewDecoder(response.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
