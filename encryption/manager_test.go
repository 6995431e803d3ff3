package encryption

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerofs/zerofs-go/cfg"
	"github.com/zerofs/zerofs-go/keycodec"
)

func testKey(t *testing.T) [32]byte {
	t.Helper()
	var k [32]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestEncryptDecryptRoundTripNonChunk(t *testing.T) {
	m, err := New(testKey(t), cfg.CompressionConfig{Algorithm: cfg.CompressionZstd, ZstdLevel: 3})
	require.NoError(t, err)
	defer m.Close()

	key := keycodec.InodeKey(42)
	plaintext := []byte("a serialized inode record")

	ct, err := m.Encrypt(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ct)

	pt, err := m.Decrypt(key, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestEncryptDecryptRoundTripChunkZstd(t *testing.T) {
	m, err := New(testKey(t), cfg.CompressionConfig{Algorithm: cfg.CompressionZstd, ZstdLevel: 5})
	require.NoError(t, err)
	defer m.Close()

	key := keycodec.ChunkKey(7, 3)
	plaintext := bytes.Repeat([]byte("0123456789"), 4096)

	ct, err := m.Encrypt(key, plaintext)
	require.NoError(t, err)

	pt, err := m.Decrypt(key, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestEncryptDecryptRoundTripChunkLz4Substitute(t *testing.T) {
	m, err := New(testKey(t), cfg.CompressionConfig{Algorithm: cfg.CompressionLz4})
	require.NoError(t, err)
	defer m.Close()

	key := keycodec.ChunkKey(9, 0)
	plaintext := bytes.Repeat([]byte{0x01}, 1000)

	ct, err := m.Encrypt(key, plaintext)
	require.NoError(t, err)

	pt, err := m.Decrypt(key, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestCrossAlgorithmReadIsTransparent(t *testing.T) {
	// A chunk written under one algorithm must remain decodable when
	// the Manager's configured algorithm is later changed, because
	// decompression dispatches on the magic bytes, not the config.
	same := testKey(t)
	zstdMgr, err := New(same, cfg.CompressionConfig{Algorithm: cfg.CompressionZstd, ZstdLevel: 3})
	require.NoError(t, err)
	defer zstdMgr.Close()
	lz4Mgr, err := New(same, cfg.CompressionConfig{Algorithm: cfg.CompressionLz4})
	require.NoError(t, err)
	defer lz4Mgr.Close()

	key := keycodec.ChunkKey(1, 1)
	plaintext := []byte("cross algorithm payload")

	ct, err := zstdMgr.Encrypt(key, plaintext)
	require.NoError(t, err)
	pt, err := lz4Mgr.Decrypt(key, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	m, err := New(testKey(t), cfg.CompressionConfig{Algorithm: cfg.CompressionZstd, ZstdLevel: 3})
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Decrypt(keycodec.InodeKey(1), []byte("short"))
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	m, err := New(testKey(t), cfg.CompressionConfig{Algorithm: cfg.CompressionZstd, ZstdLevel: 3})
	require.NoError(t, err)
	defer m.Close()

	key := keycodec.InodeKey(2)
	ct, err := m.Encrypt(key, []byte("payload"))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xFF

	_, err = m.Decrypt(key, ct)
	assert.Error(t, err)
}

func TestDifferentMasterKeysDeriveDifferentDataKeys(t *testing.T) {
	k1 := testKey(t)
	k2 := testKey(t)
	k2[0] ^= 0xFF

	m1, err := New(k1, cfg.CompressionConfig{Algorithm: cfg.CompressionZstd, ZstdLevel: 3})
	require.NoError(t, err)
	defer m1.Close()
	m2, err := New(k2, cfg.CompressionConfig{Algorithm: cfg.CompressionZstd, ZstdLevel: 3})
	require.NoError(t, err)
	defer m2.Close()

	key := keycodec.InodeKey(3)
	ct, err := m1.Encrypt(key, []byte("secret"))
	require.NoError(t, err)

	_, err = m2.Decrypt(key, ct)
	assert.Error(t, err)
}
