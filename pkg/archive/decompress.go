package archive

import (
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Decompress wraps r with the decoder for c. The returned closer releases decoder state.
func Decompress(r io.Reader, c Compression) (io.Reader, io.Closer, error) {
	switch c {
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr, nil
	case CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, io.NopCloser(nil), nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, closerFunc(zr.Close), nil
	}
	return r, io.NopCloser(nil), nil
}

// Compress wraps w with the encoder for c. Closing the result flushes the stream
// but leaves w open.
func Compress(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionXZ:
		return xz.NewWriter(w)
	case CompressionZstd:
		return zstd.NewWriter(w)
	}
	return nopWriteCloser{w}, nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
