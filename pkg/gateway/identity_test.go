package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceIdentity_SignChallenge(t *testing.T) {
	identity, err := GenerateIdentity()
	require.NoError(t, err)

	t.Run("should produce a verifiable signature", func(t *testing.T) {
		signedAt := time.Now().Unix()
		sig := identity.SignChallenge("nonce-123", signedAt)

		assert.True(t, VerifyChallenge(identity.PublicKeyString(), "nonce-123", sig, signedAt))
	})

	t.Run("should bind the signature to the nonce", func(t *testing.T) {
		signedAt := time.Now().Unix()
		sig := identity.SignChallenge("nonce-123", signedAt)

		assert.False(t, VerifyChallenge(identity.PublicKeyString(), "other-nonce", sig, signedAt))
	})

	t.Run("should bind the signature to the signing time", func(t *testing.T) {
		signedAt := time.Now().Unix()
		sig := identity.SignChallenge("nonce-123", signedAt)

		assert.False(t, VerifyChallenge(identity.PublicKeyString(), "nonce-123", sig, signedAt+1))
	})

	t.Run("should bind the signature to the device key", func(t *testing.T) {
		other, err := GenerateIdentity()
		require.NoError(t, err)

		signedAt := time.Now().Unix()
		sig := identity.SignChallenge("nonce-123", signedAt)

		assert.False(t, VerifyChallenge(other.PublicKeyString(), "nonce-123", sig, signedAt))
	})
}

func TestVerifyChallenge_MalformedInputs(t *testing.T) {
	identity, err := GenerateIdentity()
	require.NoError(t, err)
	sig := identity.SignChallenge("nonce", 1)

	assert.False(t, VerifyChallenge("not-base64!!", "nonce", sig, 1))
	assert.False(t, VerifyChallenge("c2hvcnQ=", "nonce", sig, 1))
	assert.False(t, VerifyChallenge(identity.PublicKeyString(), "nonce", "not-base64!!", 1))
}

func TestDeviceIdentity_SaveLoad(t *testing.T) {
	t.Run("should roundtrip through disk", func(t *testing.T) {
		identity, err := GenerateIdentity()
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "device", "identity.json")
		require.NoError(t, identity.Save(path))

		loaded, err := LoadIdentity(path)
		require.NoError(t, err)
		assert.Equal(t, identity.PublicKeyString(), loaded.PublicKeyString())

		// The loaded key signs interchangeably with the original.
		sig := loaded.SignChallenge("nonce", 42)
		assert.True(t, VerifyChallenge(identity.PublicKeyString(), "nonce", sig, 42))
	})

	t.Run("should write the file with owner-only permissions", func(t *testing.T) {
		identity, err := GenerateIdentity()
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "identity.json")
		require.NoError(t, identity.Save(path))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("should fail on a missing file", func(t *testing.T) {
		_, err := LoadIdentity(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("should fail on corrupt contents", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "identity.json")
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

		_, err := LoadIdentity(path)
		assert.Error(t, err)
	})

	t.Run("should fail on a truncated key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "identity.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"private_key":"c2hvcnQ="}`), 0600))

		_, err := LoadIdentity(path)
		assert.Error(t, err)
	})
}
