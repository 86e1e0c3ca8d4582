package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-broker/internal/common/errors"
)

func TestNewConfigEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "short key", key: "k"},
		{name: "long key", key: strings.Repeat("x", 100)},
		{name: "empty key", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewConfigEncryptor(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
				assert.Nil(t, enc)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, enc)
		})
	}
}

func TestConfigEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewConfigEncryptor("test-passphrase")
	require.NoError(t, err)

	for _, plaintext := range []string{"tok1", "a refresh token with spaces", "ünïcödé", strings.Repeat("z", 4096)} {
		encrypted, err := enc.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, encrypted)

		decrypted, err := enc.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestConfigEncryptor_EmptyStrings(t *testing.T) {
	enc, err := NewConfigEncryptor("test-passphrase")
	require.NoError(t, err)

	encrypted, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, encrypted)

	decrypted, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, decrypted)
}

func TestConfigEncryptor_EncryptionIsRandom(t *testing.T) {
	enc, err := NewConfigEncryptor("test-passphrase")
	require.NoError(t, err)

	first, err := enc.Encrypt("same")
	require.NoError(t, err)
	second, err := enc.Encrypt("same")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestConfigEncryptor_DifferentKeys(t *testing.T) {
	enc1, err := NewConfigEncryptor("key-one")
	require.NoError(t, err)
	enc2, err := NewConfigEncryptor("key-two")
	require.NoError(t, err)

	encrypted, err := enc1.Encrypt("secret")
	require.NoError(t, err)

	_, err = enc2.Decrypt(encrypted)
	assert.Error(t, err)

	// same passphrase derives the same key
	enc3, err := NewConfigEncryptor("key-one")
	require.NoError(t, err)
	decrypted, err := enc3.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "secret", decrypted)
}

func TestConfigEncryptor_DecryptInvalidData(t *testing.T) {
	enc, err := NewConfigEncryptor("test-passphrase")
	require.NoError(t, err)

	valid, err := enc.Encrypt("secret")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(valid)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		input   string
		errType errors.ErrorType
	}{
		{"not base64", "!!!not-base64!!!", errors.ErrTypeInternal},
		{"too short", base64.StdEncoding.EncodeToString([]byte("short")), errors.ErrTypeValidation},
		{"tampered", tampered, errors.ErrTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Decrypt(tt.input)
			assert.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errType))
		})
	}
}

func BenchmarkConfigEncryptor_Encrypt(b *testing.B) {
	enc, err := NewConfigEncryptor("benchmark-key")
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := enc.Encrypt("benchmark access token value"); err != nil {
			b.Fatal(err)
		}
	}
}
