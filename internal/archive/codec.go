package archive

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/kebairia/cloudbackup/internal/config"
)

// zipMethod maps a configured compression name to a zip method ID.
func zipMethod(compression string) (uint16, error) {
	switch compression {
	case "", config.CompressionDeflate:
		return zip.Deflate, nil
	case config.CompressionStore:
		return zip.Store, nil
	case config.CompressionZstd:
		return zstd.ZipMethodWinZip, nil
	default:
		return 0, fmt.Errorf("unsupported compression %q", compression)
	}
}

func newZipWriter(w io.Writer) *zip.Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor(zstd.WithEncoderLevel(zstd.SpeedDefault)))
	return zw
}

// openZip opens a zip file able to read every method newZipWriter writes.
func openZip(path string) (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	r.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	return r, nil
}
