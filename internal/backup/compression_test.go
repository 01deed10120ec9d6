package backup

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	manager := NewCompressionManager()
	data := bytes.Repeat([]byte("Id,Name\n001xx000003DGb1AAG,Acme Corporation\n"), 200)

	for _, algorithm := range []CompressionType{CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd} {
		t.Run(string(algorithm), func(t *testing.T) {
			compressed, err := manager.Compress(data, algorithm, 0)
			require.NoError(t, err)
			assert.Less(t, len(compressed), len(data), "repetitive data should shrink")

			decompressed, err := manager.Decompress(compressed, algorithm)
			require.NoError(t, err)
			assert.Equal(t, data, decompressed)
		})
	}
}

func TestCompressNonePassesThrough(t *testing.T) {
	manager := NewCompressionManager()
	data := []byte("unchanged")

	compressed, err := manager.Compress(data, CompressionTypeNone, 0)
	require.NoError(t, err)
	assert.Equal(t, data, compressed)

	compressed, err = manager.Compress(data, "", 0)
	require.NoError(t, err)
	assert.Equal(t, data, compressed)
}

func TestCompressUnsupportedAlgorithm(t *testing.T) {
	manager := NewCompressionManager()

	_, err := manager.Compress([]byte("data"), "BROTLI", 0)
	require.Error(t, err)
	var backupErr *BackupError
	require.ErrorAs(t, err, &backupErr)
	assert.Equal(t, BackupErrorTypeCompression, backupErr.Type)
}

func TestCompressOutOfRangeLevelUsesDefault(t *testing.T) {
	manager := NewCompressionManager()
	data := bytes.Repeat([]byte("abc"), 100)

	compressed, err := manager.Compress(data, CompressionTypeGzip, 99)
	require.NoError(t, err)

	decompressed, err := manager.Decompress(compressed, CompressionTypeGzip)
	require.NoError(t, err)
	assert.Equal(t, data, decompressed)
}

func TestExtensionRoundTrip(t *testing.T) {
	tests := []struct {
		algorithm CompressionType
		ext       string
	}{
		{CompressionTypeGzip, ".gz"},
		{CompressionTypeLZ4, ".lz4"},
		{CompressionTypeZstd, ".zst"},
		{CompressionTypeNone, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ext, Extension(tt.algorithm))
		assert.Equal(t, tt.algorithm, AlgorithmForExtension(tt.ext))
	}
}

func TestCompressionRatio(t *testing.T) {
	assert.Equal(t, 0.5, CompressionRatio(100, 50))
	assert.Equal(t, 1.0, CompressionRatio(0, 50))
}

func TestSupportedAlgorithms(t *testing.T) {
	algorithms := NewCompressionManager().SupportedAlgorithms()
	assert.ElementsMatch(t, []CompressionType{CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd}, algorithms)
}
