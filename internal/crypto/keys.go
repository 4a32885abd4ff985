package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var curve = ecdh.P256()

// ErrKeyFormat reports a peer public key blob that could not be decoded.
var ErrKeyFormat = errors.New("crypto: malformed public key")

const (
	// SessionKeySize is the AES-256 key length produced by DeriveSharedKey.
	SessionKeySize = 32

	hkdfInfo = "dropwire/1 session key"

	coordSize = 32
)

// KeyPair holds one side's ephemeral exchange keys. The private half never
// leaves the process; only the exported public half crosses the signaling
// channel.
type KeyPair struct {
	private *ecdh.PrivateKey
	public  *ecdh.PublicKey
}

// GenerateKeyPair creates a fresh P-256 key pair for ECDH key exchange.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate P-256 key: %w", err)
	}
	return &KeyPair{private: priv, public: priv.PublicKey()}, nil
}

type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// ExportPublicKey serializes the public half as base64(JSON(JWK)), the
// public-key blob handed to the signaling channel.
func (kp *KeyPair) ExportPublicKey() (string, error) {
	point := kp.public.Bytes()
	if len(point) != 1+2*coordSize {
		return "", fmt.Errorf("crypto: unexpected public key length %d", len(point))
	}
	k := jwk{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(point[1 : 1+coordSize]),
		Y:   base64.RawURLEncoding.EncodeToString(point[1+coordSize:]),
	}
	data, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("marshal JWK: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ImportPublicKey parses a peer's base64(JSON(JWK)) blob. Undecodable input,
// a non-EC key, a curve other than P-256, and coordinates that do not name a
// point on the curve all fail with ErrKeyFormat.
func ImportPublicKey(blob string) (*ecdh.PublicKey, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	var k jwk
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	if k.Kty != "EC" || k.Crv != "P-256" {
		return nil, fmt.Errorf("%w: got %s/%s, want EC/P-256", ErrKeyFormat, k.Kty, k.Crv)
	}
	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("%w: coordinate x: %v", ErrKeyFormat, err)
	}
	y, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: coordinate y: %v", ErrKeyFormat, err)
	}
	if len(x) != coordSize || len(y) != coordSize {
		return nil, fmt.Errorf("%w: coordinate lengths %d/%d", ErrKeyFormat, len(x), len(y))
	}
	point := make([]byte, 0, 1+2*coordSize)
	point = append(point, 0x04)
	point = append(point, x...)
	point = append(point, y...)
	pub, err := curve.NewPublicKey(point)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return pub, nil
}

// DeriveSharedKey runs ECDH against the peer's public key and expands the
// shared secret into an AES-256 session key. Both peers derive the same key
// regardless of which side initiated.
func (kp *KeyPair) DeriveSharedKey(peer *ecdh.PublicKey) ([]byte, error) {
	secret, err := kp.private.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	key := make([]byte, SessionKeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}
