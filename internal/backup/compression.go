package backup

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor is one archive compression algorithm.
type Compressor interface {
	Compress(data []byte, level int) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() CompressionType
	DefaultLevel() int
	// LevelRange returns the inclusive level bounds; levels outside are
	// clamped to the default.
	LevelRange() (min, max int)
}

// CompressionManager dispatches to the registered compressors.
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager registers the supported algorithms.
func NewCompressionManager() *CompressionManager {
	return &CompressionManager{
		compressors: map[CompressionType]Compressor{
			CompressionTypeGzip: &GzipCompressor{},
			CompressionTypeLZ4:  &LZ4Compressor{},
			CompressionTypeZstd: &ZstdCompressor{},
		},
	}
}

// Compress compresses data with the given algorithm. NONE passes the data
// through untouched.
func (cm *CompressionManager) Compress(data []byte, algorithm CompressionType, level int) ([]byte, error) {
	if algorithm == CompressionTypeNone || algorithm == "" {
		return data, nil
	}
	compressor, ok := cm.compressors[algorithm]
	if !ok {
		return nil, NewCompressionError("unsupported compression algorithm: "+string(algorithm), nil)
	}
	if min, max := compressor.LevelRange(); level < min || level > max {
		level = compressor.DefaultLevel()
	}
	return compressor.Compress(data, level)
}

// Decompress reverses Compress for the given algorithm.
func (cm *CompressionManager) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	if algorithm == CompressionTypeNone || algorithm == "" {
		return data, nil
	}
	compressor, ok := cm.compressors[algorithm]
	if !ok {
		return nil, NewCompressionError("unsupported compression algorithm: "+string(algorithm), nil)
	}
	return compressor.Decompress(data)
}

// SupportedAlgorithms lists the registered algorithms.
func (cm *CompressionManager) SupportedAlgorithms() []CompressionType {
	algorithms := make([]CompressionType, 0, len(cm.compressors))
	for algorithm := range cm.compressors {
		algorithms = append(algorithms, algorithm)
	}
	return algorithms
}

// Extension returns the file name suffix for an algorithm.
func Extension(algorithm CompressionType) string {
	switch algorithm {
	case CompressionTypeGzip:
		return ".gz"
	case CompressionTypeLZ4:
		return ".lz4"
	case CompressionTypeZstd:
		return ".zst"
	}
	return ""
}

// AlgorithmForExtension is the inverse of Extension, used when unpacking.
func AlgorithmForExtension(ext string) CompressionType {
	switch ext {
	case ".gz":
		return CompressionTypeGzip
	case ".lz4":
		return CompressionTypeLZ4
	case ".zst":
		return CompressionTypeZstd
	}
	return CompressionTypeNone
}

// CompressionRatio returns compressed over original size.
func CompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}

// GzipCompressor implements gzip compression.
type GzipCompressor struct{}

func (gc *GzipCompressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, NewCompressionError("failed to create gzip writer", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, NewCompressionError("failed to write gzip data", err)
	}
	if err := writer.Close(); err != nil {
		return nil, NewCompressionError("failed to close gzip writer", err)
	}
	return buf.Bytes(), nil
}

func (gc *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, NewCompressionError("failed to create gzip reader", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewCompressionError("failed to decompress gzip data", err)
	}
	return decompressed, nil
}

func (gc *GzipCompressor) Algorithm() CompressionType { return CompressionTypeGzip }
func (gc *GzipCompressor) DefaultLevel() int          { return gzip.DefaultCompression }
func (gc *GzipCompressor) LevelRange() (int, int)     { return gzip.BestSpeed, gzip.BestCompression }

// LZ4Compressor implements LZ4 compression.
type LZ4Compressor struct{}

func (lc *LZ4Compressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if level > 6 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, NewCompressionError("failed to set LZ4 compression level", err)
		}
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, NewCompressionError("failed to write LZ4 data", err)
	}
	if err := writer.Close(); err != nil {
		return nil, NewCompressionError("failed to close LZ4 writer", err)
	}
	return buf.Bytes(), nil
}

func (lc *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	decompressed, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, NewCompressionError("failed to decompress LZ4 data", err)
	}
	return decompressed, nil
}

func (lc *LZ4Compressor) Algorithm() CompressionType { return CompressionTypeLZ4 }
func (lc *LZ4Compressor) DefaultLevel() int          { return 1 }
func (lc *LZ4Compressor) LevelRange() (int, int)     { return 1, 12 }

// ZstdCompressor implements Zstandard compression.
type ZstdCompressor struct{}

func (zc *ZstdCompressor) Compress(data []byte, level int) ([]byte, error) {
	encoderLevel := zstd.SpeedDefault
	switch {
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 3:
		encoderLevel = zstd.SpeedDefault
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		return nil, NewCompressionError("failed to create zstd encoder", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (zc *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, NewCompressionError("failed to create zstd decoder", err)
	}
	defer decoder.Close()

	decompressed, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, NewCompressionError("failed to decompress zstd data", err)
	}
	return decompressed, nil
}

func (zc *ZstdCompressor) Algorithm() CompressionType { return CompressionTypeZstd }
func (zc *ZstdCompressor) DefaultLevel() int          { return 3 }
func (zc *ZstdCompressor) LevelRange() (int, int)     { return 1, 22 }
