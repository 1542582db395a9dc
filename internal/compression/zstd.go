// Package compression streams artifacts through zstd.
package compression

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/WendelHime/lanshare/internal/progress"
)

const (
	// BufferSize is the read size used in both directions.
	BufferSize = 1 << 20
	Extension  = ".zst"
)

// Compress writes input through a zstd encoder into input+".zst", reporting
// the cumulative number of input bytes consumed. The input is removed once
// the compressed output is complete; on failure the partial output is
// removed and the input is left in place.
func Compress(input string, onProgress progress.Func) (string, error) {
	output := input + Extension
	err := stream(input, output, onProgress, func(dst io.Writer, src io.Reader) error {
		enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithZeroFrames(true))
		if err != nil {
			return err
		}
		if err := copyBuffered(enc, src); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return "", fmt.Errorf("compress %s: %w", input, err)
	}

	if err := os.Remove(input); err != nil {
		return "", err
	}
	return output, nil
}

// Decompress reverses Compress, reporting compressed bytes consumed. The
// output drops the ".zst" extension, or gains ".out" when input has none.
// The input is left in place.
func Decompress(input string, onProgress progress.Func) (string, error) {
	output := strings.TrimSuffix(input, Extension)
	if output == input {
		output = input + ".out"
	}
	err := stream(input, output, onProgress, func(dst io.Writer, src io.Reader) error {
		dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return err
		}
		defer dec.Close()
		return copyBuffered(dst, dec)
	})
	if err != nil {
		return "", fmt.Errorf("decompress %s: %w", input, err)
	}
	return output, nil
}

func stream(input, output string, onProgress progress.Func, run func(dst io.Writer, src io.Reader) error) (err error) {
	src, err := os.Open(input)
	if err != nil {
		return err
	}
	defer src.Close()

	total := int64(-1)
	if info, statErr := src.Stat(); statErr == nil {
		total = info.Size()
	}

	dst, err := os.OpenFile(output, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := dst.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(output)
		}
	}()

	counter := progress.NewCounter(total, onProgress)
	return run(dst, io.TeeReader(src, counter.Writer()))
}

func copyBuffered(dst io.Writer, src io.Reader) error {
	buf := make([]byte, BufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
