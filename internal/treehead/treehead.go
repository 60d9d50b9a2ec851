// Package treehead signs published roots into signed tree heads, the way
// a transparency-log operator attests to a checkpoint. Signing is
// optional: a Board with no Signer attached behaves exactly as the
// unsigned specification describes.
package treehead

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/rightcommons/merkleboard/internal/hashvalue"
)

// SignedTreeHead attests to a board operator's endorsement of a
// published root: its hash, the number of elements it commits to, and
// the timestamp it was published at.
type SignedTreeHead struct {
	RootHash    hashvalue.Value
	TreeSize    uint64
	Timestamp   uint64
	Signature   []byte
	Fingerprint string
	Algorithm   string
}

// Signer wraps an Ed25519 or P-256 private key used to produce
// SignedTreeHead values.
type Signer struct {
	privateKey  crypto.PrivateKey
	publicKey   crypto.PublicKey
	algorithm   string
	fingerprint string
}

// signedData lays out the exact bytes a Signer signs: root_hash(32) ||
// tree_size_be64 || timestamp_be64.
func signedData(rootHash hashvalue.Value, treeSize, timestamp uint64) []byte {
	data := make([]byte, 32+8+8)
	copy(data[0:32], rootHash[:])
	binary.BigEndian.PutUint64(data[32:40], treeSize)
	binary.BigEndian.PutUint64(data[40:48], timestamp)
	return data
}

// NewSigner parses a PEM-encoded Ed25519 or P-256 private key.
func NewSigner(privateKeyPEM []byte) (*Signer, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("treehead: failed to parse PEM block")
	}

	var privateKey crypto.PrivateKey
	var publicKey crypto.PublicKey
	var algorithm string

	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("treehead: failed to parse PKCS#8 private key: %w", err)
		}
		switch k := key.(type) {
		case ed25519.PrivateKey:
			algorithm = "ed25519"
			privateKey = k
			publicKey = k.Public()
		case *ecdsa.PrivateKey:
			if k.Curve != elliptic.P256() {
				return nil, fmt.Errorf("treehead: unsupported ECDSA curve, only P-256 is supported")
			}
			algorithm = "p256"
			privateKey = k
			publicKey = &k.PublicKey
		default:
			return nil, fmt.Errorf("treehead: unsupported key type: %T", key)
		}
	case "ED25519 PRIVATE KEY":
		if len(block.Bytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("treehead: invalid Ed25519 private key size")
		}
		key := ed25519.PrivateKey(block.Bytes)
		algorithm = "ed25519"
		privateKey = key
		publicKey = key.Public()
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("treehead: failed to parse EC private key: %w", err)
		}
		if key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("treehead: unsupported ECDSA curve, only P-256 is supported")
		}
		algorithm = "p256"
		privateKey = key
		publicKey = &key.PublicKey
	default:
		return nil, fmt.Errorf("treehead: unsupported PEM block type: %s", block.Type)
	}

	fingerprint, err := computeFingerprint(publicKey, algorithm)
	if err != nil {
		return nil, err
	}

	return &Signer{privateKey: privateKey, publicKey: publicKey, algorithm: algorithm, fingerprint: fingerprint}, nil
}

// NewSignerFromFile loads a signer from a PEM file.
func NewSignerFromFile(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("treehead: failed to read key file: %w", err)
	}
	return NewSigner(data)
}

// NewSignerFromEnv loads a signer from the BOARD_SIGNING_KEY
// environment variable. Its value may be either a file path or a
// PEM-encoded key. Returns (nil, nil) if the variable is unset, so
// callers can treat signing as optional without an extra branch.
func NewSignerFromEnv() (*Signer, error) {
	keyData := os.Getenv("BOARD_SIGNING_KEY")
	if keyData == "" {
		return nil, nil
	}
	if _, err := os.Stat(keyData); err == nil {
		return NewSignerFromFile(keyData)
	}
	return NewSigner([]byte(keyData))
}

// GenerateEd25519Key generates a new Ed25519 key pair and returns its
// PEM-encoded (PKCS#8) private key, suitable for BOARD_SIGNING_KEY.
func GenerateEd25519Key() ([]byte, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("treehead: failed to generate Ed25519 key: %w", err)
	}
	pkcs8Key, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("treehead: failed to marshal private key: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8Key}
	return pem.EncodeToMemory(block), nil
}

// SignRoot produces a SignedTreeHead over rootHash/treeSize/timestamp.
func (s *Signer) SignRoot(rootHash hashvalue.Value, treeSize, timestamp uint64) (*SignedTreeHead, error) {
	data := signedData(rootHash, treeSize, timestamp)
	var sig []byte
	var err error
	switch s.algorithm {
	case "ed25519":
		sig = ed25519.Sign(s.privateKey.(ed25519.PrivateKey), data)
	case "p256":
		hash := sha256.Sum256(data)
		sig, err = ecdsa.SignASN1(rand.Reader, s.privateKey.(*ecdsa.PrivateKey), hash[:])
		if err != nil {
			return nil, fmt.Errorf("treehead: failed to sign root: %w", err)
		}
	default:
		return nil, fmt.Errorf("treehead: unsupported algorithm: %s", s.algorithm)
	}
	return &SignedTreeHead{
		RootHash:    rootHash,
		TreeSize:    treeSize,
		Timestamp:   timestamp,
		Signature:   sig,
		Fingerprint: s.fingerprint,
		Algorithm:   s.algorithm,
	}, nil
}

// Verify checks sth's signature against this Signer's own key pair.
func (s *Signer) Verify(sth *SignedTreeHead) bool {
	data := signedData(sth.RootHash, sth.TreeSize, sth.Timestamp)
	switch s.algorithm {
	case "ed25519":
		return ed25519.Verify(s.publicKey.(ed25519.PublicKey), data, sth.Signature)
	case "p256":
		hash := sha256.Sum256(data)
		return ecdsa.VerifyASN1(s.publicKey.(*ecdsa.PublicKey), hash[:], sth.Signature)
	default:
		return false
	}
}

// VerifyWithPublicKey verifies sth's signature using a raw public key
// supplied out-of-band (e.g. fetched once and pinned by a client),
// without needing a full Signer.
func VerifyWithPublicKey(publicKey []byte, algorithm string, sth *SignedTreeHead) bool {
	data := signedData(sth.RootHash, sth.TreeSize, sth.Timestamp)
	switch algorithm {
	case "ed25519":
		if len(publicKey) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(publicKey), data, sth.Signature)
	case "p256":
		x, y := elliptic.Unmarshal(elliptic.P256(), publicKey)
		if x == nil {
			return false
		}
		pk := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		hash := sha256.Sum256(data)
		return ecdsa.VerifyASN1(pk, hash[:], sth.Signature)
	default:
		return false
	}
}

// Algorithm returns the signing algorithm ("ed25519" or "p256").
func (s *Signer) Algorithm() string { return s.algorithm }

// Fingerprint returns the signer's public-key fingerprint.
func (s *Signer) Fingerprint() string { return s.fingerprint }

func computeFingerprint(publicKey crypto.PublicKey, algorithm string) (string, error) {
	var keyBytes []byte
	switch algorithm {
	case "ed25519":
		keyBytes = []byte(publicKey.(ed25519.PublicKey))
	case "p256":
		pk := publicKey.(*ecdsa.PublicKey)
		keyBytes = elliptic.Marshal(pk.Curve, pk.X, pk.Y)
	default:
		return "", fmt.Errorf("treehead: unsupported algorithm: %s", algorithm)
	}
	sum := sha256.Sum256(keyBytes)
	return hex.EncodeToString(sum[:16]), nil
}
