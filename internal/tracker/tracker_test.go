package tracker

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WendelHime/lanshare/internal/shared/models"
	"github.com/WendelHime/lanshare/internal/transfer"
)

type RoundTripFunc func(req *http.Request) *http.Response

func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func NewTestClient(fn RoundTripFunc) *http.Client {
	return &http.Client{
		Transport: RoundTripFunc(fn),
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestGetPeers(t *testing.T) {
	var tests = []struct {
		name   string
		setup  func(t *testing.T) Tracker
		assert func(t *testing.T, actual []models.Peer, err error)
	}{
		{
			name: "get peers with success",
			setup: func(t *testing.T) Tracker {
				return NewTracker("http://192.168.1.20:8080/").WithHTTPClient(NewTestClient(func(req *http.Request) *http.Response {
					assert.Equal(t, "http://192.168.1.20:8080/peers", req.URL.String())
					return jsonResponse(http.StatusOK, `[{"address":"192.168.1.30","port":55510,"name":"desk","last_seen":"2024-05-01T12:00:00Z"}]`)
				}))
			},
			assert: func(t *testing.T, actual []models.Peer, err error) {
				require.NoError(t, err)
				assert.Equal(t, []models.Peer{{
					Address:  "192.168.1.30",
					Port:     55510,
					Name:     "desk",
					LastSeen: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
				}}, actual)
			},
		},
		{
			name: "server error",
			setup: func(t *testing.T) Tracker {
				return NewTracker("http://192.168.1.20:8080").WithHTTPClient(NewTestClient(func(req *http.Request) *http.Response {
					return jsonResponse(http.StatusInternalServerError, ``)
				}))
			},
			assert: func(t *testing.T, actual []models.Peer, err error) {
				assert.ErrorContains(t, err, "http error")
			},
		},
		{
			name: "malformed body",
			setup: func(t *testing.T) Tracker {
				return NewTracker("http://192.168.1.20:8080").WithHTTPClient(NewTestClient(func(req *http.Request) *http.Response {
					return jsonResponse(http.StatusOK, `{"peers":`)
				}))
			},
			assert: func(t *testing.T, actual []models.Peer, err error) {
				assert.Error(t, err)
			},
		},
		{
			name: "unsupported protocol",
			setup: func(t *testing.T) Tracker {
				return NewTracker("udp://192.168.1.20:8080")
			},
			assert: func(t *testing.T, actual []models.Peer, err error) {
				assert.ErrorContains(t, err, "unsupported protocol")
			},
		},
		{
			name: "empty url",
			setup: func(t *testing.T) Tracker {
				return NewTracker("")
			},
			assert: func(t *testing.T, actual []models.Peer, err error) {
				assert.Error(t, err)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tr := tt.setup(t)
			actual, err := tr.GetPeers(context.Background())
			tt.assert(t, actual, err)
		})
	}
}

func TestGetTransfers(t *testing.T) {
	tr := NewTracker("http://127.0.0.1:8080").WithHTTPClient(NewTestClient(func(req *http.Request) *http.Response {
		assert.Equal(t, "/transfers", req.URL.Path)
		return jsonResponse(http.StatusOK, `[{"file_id":"abc","filename":"a.tar.zst","state":"completed","received":4,"expected":4,"total_size":10}]`)
	}))

	transfers, err := tr.GetTransfers(context.Background())
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, transfer.StateCompleted, transfers[0].State)
	assert.Equal(t, models.TransferID("abc"), transfers[0].TransferID)
	assert.Equal(t, 4, transfers[0].Received)
}
