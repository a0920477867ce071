package repo

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// decoder wraps r so reads return the uncompressed image.
func decoder(c Codec, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecNone:
		return io.NopCloser(r), nil
	}
	return nil, ErrUnknownCodec
}

// encoder wraps w so writes are compressed. Close flushes the frame but leaves w open.
func encoder(c Codec, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	case CodecLZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4.Level5)); err != nil {
			return nil, err
		}
		return zw, nil
	case CodecNone:
		return nopWriteCloser{w}, nil
	}
	return nil, ErrUnknownCodec
}
