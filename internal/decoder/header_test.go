package decoder

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WendelHime/lanshare/internal/shared/models"
)

func rawHeader(body string) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	return append(buf, body...)
}

func TestReadRangeHeader(t *testing.T) {
	var tests = []struct {
		name   string
		setup  func(t *testing.T) io.Reader
		assert func(t *testing.T, actual models.RangeDescriptor, err error, rest io.Reader)
	}{
		{
			name: "header written by WriteRangeHeader is read back and payload is left intact",
			setup: func(t *testing.T) io.Reader {
				var buf bytes.Buffer
				err := WriteRangeHeader(&buf, models.RangeDescriptor{
					TransferID: "abc123",
					FileName:   "photos_1f.tar.zst",
					TotalSize:  1000000,
					Start:      250000,
					Length:     250000,
					Count:      4,
				})
				require.NoError(t, err)
				buf.WriteString("payload")
				return &buf
			},
			assert: func(t *testing.T, actual models.RangeDescriptor, err error, rest io.Reader) {
				require.NoError(t, err)
				assert.Equal(t, models.TransferID("abc123"), actual.TransferID)
				assert.Equal(t, "photos_1f.tar.zst", actual.FileName)
				assert.Equal(t, int64(1000000), actual.TotalSize)
				assert.Equal(t, int64(250000), actual.Start)
				assert.Equal(t, int64(250000), actual.Length)
				assert.Equal(t, 4, actual.Count)
				remaining, _ := io.ReadAll(rest)
				assert.Equal(t, "payload", string(remaining))
			},
		},
		{
			name: "header without chunk_count from older senders",
			setup: func(t *testing.T) io.Reader {
				return bytes.NewReader(rawHeader(`{"file_id": "f00d", "filename": "a.tar.zst", "total_size": 7, "chunk_start": 0, "chunk_size": 7}`))
			},
			assert: func(t *testing.T, actual models.RangeDescriptor, err error, rest io.Reader) {
				require.NoError(t, err)
				assert.Zero(t, actual.Count)
				assert.Equal(t, int64(7), actual.Length)
			},
		},
		{
			name: "range past the end of the artifact",
			setup: func(t *testing.T) io.Reader {
				return bytes.NewReader(rawHeader(`{"file_id": "f00d", "filename": "a", "total_size": 7, "chunk_start": 5, "chunk_size": 7}`))
			},
			assert: func(t *testing.T, actual models.RangeDescriptor, err error, rest io.Reader) {
				assert.ErrorIs(t, err, ErrInvalidHeader)
			},
		},
		{
			name: "range whose end overflows int64",
			setup: func(t *testing.T) io.Reader {
				return bytes.NewReader(rawHeader(`{"file_id": "f00d", "filename": "a", "total_size": 7, "chunk_start": 4611686018427387904, "chunk_size": 4611686018427387905}`))
			},
			assert: func(t *testing.T, actual models.RangeDescriptor, err error, rest io.Reader) {
				assert.ErrorIs(t, err, ErrInvalidHeader)
			},
		},
		{
			name: "missing transfer id",
			setup: func(t *testing.T) io.Reader {
				return bytes.NewReader(rawHeader(`{"filename": "a", "total_size": 7, "chunk_start": 0, "chunk_size": 7}`))
			},
			assert: func(t *testing.T, actual models.RangeDescriptor, err error, rest io.Reader) {
				assert.ErrorIs(t, err, ErrInvalidHeader)
			},
		},
		{
			name: "malformed json",
			setup: func(t *testing.T) io.Reader {
				return bytes.NewReader(rawHeader(`{"file_id": `))
			},
			assert: func(t *testing.T, actual models.RangeDescriptor, err error, rest io.Reader) {
				assert.ErrorIs(t, err, ErrInvalidHeader)
			},
		},
		{
			name: "oversized length prefix",
			setup: func(t *testing.T) io.Reader {
				buf := make([]byte, 4)
				binary.BigEndian.PutUint32(buf, MaxHeaderSize+1)
				return bytes.NewReader(buf)
			},
			assert: func(t *testing.T, actual models.RangeDescriptor, err error, rest io.Reader) {
				assert.ErrorIs(t, err, ErrHeaderTooLarge)
			},
		},
		{
			name: "connection closed inside the header",
			setup: func(t *testing.T) io.Reader {
				return bytes.NewReader(rawHeader(`{"file_id": "x"}`)[:10])
			},
			assert: func(t *testing.T, actual models.RangeDescriptor, err error, rest io.Reader) {
				assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := tt.setup(t)
			actual, err := ReadRangeHeader(r)
			tt.assert(t, actual, err, r)
		})
	}
}
