package decoder

import "io"

// ReadBytes reads exactly n bytes from r. A stream that ends before n bytes
// yields io.EOF when nothing was read and io.ErrUnexpectedEOF otherwise.
func ReadBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
