package tracker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/WendelHime/lanshare/internal/shared/models"
	"github.com/WendelHime/lanshare/internal/transfer"
)

// Tracker asks a running lanshare node what it currently knows, through its
// status API, instead of listening for announcements locally.
type Tracker interface {
	GetPeers(ctx context.Context) ([]models.Peer, error)
	GetTransfers(ctx context.Context) ([]transfer.TransferStatus, error)
	WithHTTPClient(client *http.Client) Tracker
}

type tracker struct {
	BaseURL    string
	HTTPClient *HTTPGetter
}

func NewTracker(baseURL string) Tracker {
	return &tracker{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: NewHTTPGetter(&http.Client{Timeout: 10 * time.Second}),
	}
}

func (t *tracker) WithHTTPClient(client *http.Client) Tracker {
	t.HTTPClient = NewHTTPGetter(client)
	return t
}

func (t *tracker) GetPeers(ctx context.Context) ([]models.Peer, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var peers []models.Peer
	err := t.HTTPClient.Get(ctx, t.BaseURL+"/peers", &peers)
	return peers, err
}

func (t *tracker) GetTransfers(ctx context.Context) ([]transfer.TransferStatus, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var transfers []transfer.TransferStatus
	err := t.HTTPClient.Get(ctx, t.BaseURL+"/transfers", &transfers)
	return transfers, err
}

func (t *tracker) check() error {
	switch {
	case t.BaseURL == "":
		return fmt.Errorf("status url is empty")
	case strings.HasPrefix(t.BaseURL, "http://"), strings.HasPrefix(t.BaseURL, "https://"):
		return nil
	default:
		return fmt.Errorf("unsupported protocol: %s", t.BaseURL)
	}
}
