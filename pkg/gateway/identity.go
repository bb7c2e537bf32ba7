package gateway

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ChallengePayloadVersion is the current signed challenge payload format
const ChallengePayloadVersion = "v1"

// DeviceIdentity is the local signing keypair used to prove device identity
// during the connect handshake.
type DeviceIdentity struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// identityFile is the on-disk representation of a device identity
type identityFile struct {
	Version    int    `json:"version"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	CreatedAt  int64  `json:"created_at"`
}

// GenerateIdentity creates a fresh ed25519 device identity
func GenerateIdentity() (*DeviceIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate device key: %w", err)
	}
	return &DeviceIdentity{PublicKey: pub, PrivateKey: priv}, nil
}

// LoadIdentity reads a device identity from disk
func LoadIdentity(path string) (*DeviceIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse identity file: %w", err)
	}

	priv, err := base64.StdEncoding.DecodeString(f.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d", len(priv))
	}

	key := ed25519.PrivateKey(priv)
	return &DeviceIdentity{
		PublicKey:  key.Public().(ed25519.PublicKey),
		PrivateKey: key,
	}, nil
}

// Save writes the identity to disk with owner-only permissions
func (d *DeviceIdentity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	f := identityFile{
		Version:    1,
		PublicKey:  base64.StdEncoding.EncodeToString(d.PublicKey),
		PrivateKey: base64.StdEncoding.EncodeToString(d.PrivateKey),
		CreatedAt:  time.Now().Unix(),
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}

// PublicKeyString returns the base64-encoded public key sent to the gateway
func (d *DeviceIdentity) PublicKeyString() string {
	return base64.StdEncoding.EncodeToString(d.PublicKey)
}

// SignChallenge signs the versioned challenge payload. The payload binds the
// server nonce, the signing time, and the device public key so a signature
// cannot be replayed for a different device or challenge.
func (d *DeviceIdentity) SignChallenge(nonce string, signedAt int64) string {
	payload := challengeSigningPayload(nonce, signedAt, d.PublicKeyString())
	sig := ed25519.Sign(d.PrivateKey, payload)
	return base64.StdEncoding.EncodeToString(sig)
}

// VerifyChallenge checks a device signature over the versioned payload.
// The gateway performs this check server-side; the client uses it in tests.
func VerifyChallenge(publicKey, nonce, signature string, signedAt int64) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	payload := challengeSigningPayload(nonce, signedAt, publicKey)
	return ed25519.Verify(ed25519.PublicKey(pub), payload, sig)
}

func challengeSigningPayload(nonce string, signedAt int64, publicKey string) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d|%s", ChallengePayloadVersion, nonce, signedAt, publicKey))
}
