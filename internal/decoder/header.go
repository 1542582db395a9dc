package decoder

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/WendelHime/lanshare/internal/shared/models"
)

// MaxHeaderSize bounds the JSON header a peer may announce.
const MaxHeaderSize = 64 * 1024

var (
	ErrHeaderTooLarge = errors.New("range header too large")
	ErrInvalidHeader  = errors.New("invalid range header")
)

// EncodeRangeHeader returns the 4-byte big-endian length prefix followed by
// the JSON encoding of r.
func EncodeRangeHeader(r models.RangeDescriptor) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}
	buf := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	return append(buf, body...), nil
}

func WriteRangeHeader(w io.Writer, r models.RangeDescriptor) error {
	buf, err := EncodeRangeHeader(r)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadRangeHeader reads one length-prefixed header and validates the range
// it describes. It does not consume any of the range bytes that follow.
func ReadRangeHeader(r io.Reader) (models.RangeDescriptor, error) {
	var desc models.RangeDescriptor

	prefix, err := ReadBytes(r, 4)
	if err != nil {
		return desc, err
	}
	size := binary.BigEndian.Uint32(prefix)
	if size > MaxHeaderSize {
		return desc, ErrHeaderTooLarge
	}

	body, err := ReadBytes(r, int(size))
	if err != nil {
		return desc, err
	}

	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&desc); err != nil {
		return desc, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	switch {
	case desc.TransferID == "":
		return desc, fmt.Errorf("%w: missing file_id", ErrInvalidHeader)
	case desc.FileName == "":
		return desc, fmt.Errorf("%w: missing filename", ErrInvalidHeader)
	case desc.TotalSize < 0 || desc.Start < 0 || desc.Length < 0:
		return desc, fmt.Errorf("%w: negative size or offset", ErrInvalidHeader)
	case desc.Length > desc.TotalSize-desc.Start:
		return desc, fmt.Errorf("%w: range [%d,%d) exceeds total size %d", ErrInvalidHeader, desc.Start, desc.End(), desc.TotalSize)
	case desc.Count < 0:
		return desc, fmt.Errorf("%w: negative chunk_count", ErrInvalidHeader)
	}

	return desc, nil
}
