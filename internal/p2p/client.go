package p2p

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/WendelHime/lanshare/internal/decoder"
	"github.com/WendelHime/lanshare/internal/shared/models"
)

// RangeClient carries one range of an artifact over its own connection.
type RangeClient interface {
	Connect(ctx context.Context, address models.Addr) error
	Disconnect() error
	SendRange(header models.RangeDescriptor, body io.Reader) (int64, error)
}

// Factory builds a fresh client for every range.
type Factory func() RangeClient

var ErrNotConnected = errors.New("not connected")

type client struct {
	dialer     net.Dialer
	conn       net.Conn
	bufferSize int
}

func NewClient(dialTimeout time.Duration, bufferSize int) RangeClient {
	return &client{dialer: net.Dialer{Timeout: dialTimeout}, bufferSize: bufferSize}
}

// NewFactory returns a Factory producing clients with the given settings.
func NewFactory(dialTimeout time.Duration, bufferSize int) Factory {
	return func() RangeClient {
		return NewClient(dialTimeout, bufferSize)
	}
}

func (c *client) Connect(ctx context.Context, address models.Addr) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", address.String())
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *client) Disconnect() error {
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// SendRange writes the length-prefixed header and then exactly
// header.Length bytes read from body.
func (c *client) SendRange(header models.RangeDescriptor, body io.Reader) (int64, error) {
	if c.conn == nil {
		return 0, ErrNotConnected
	}

	size := c.bufferSize
	if size <= 0 {
		size = 64 * 1024
	}
	w := bufio.NewWriterSize(c.conn, size)

	if err := decoder.WriteRangeHeader(w, header); err != nil {
		return 0, err
	}

	n, err := io.CopyN(w, body, header.Length)
	if err != nil {
		return n, fmt.Errorf("range [%d,%d): wrote %d bytes: %w", header.Start, header.End(), n, err)
	}
	return n, w.Flush()
}
