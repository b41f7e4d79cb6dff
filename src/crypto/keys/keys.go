package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/plexus/src/crypto"
)

// Curve returns the elliptic curve underlying all Plexus keys.
func Curve() elliptic.Curve {
	return btcec.S256()
}

// GenerateECDSAKey generates a new random secp256k1 key-pair.
func GenerateECDSAKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(Curve(), rand.Reader)
}

// ParsePrivateKey reads a raw big-endian private scalar, as produced by
// DumpPrivateKey, back into a private key.
func ParsePrivateKey(rawKey []byte) (*ecdsa.PrivateKey, error) {
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), rawKey)
	return priv.ToECDSA(), nil
}

// DumpPrivateKey returns the hex representation of the raw private scalar,
// left-padded to the full 32 bytes.
func DumpPrivateKey(privateKey *ecdsa.PrivateKey) string {
	return hex.EncodeToString(paddedBigBytes(privateKey.D, 32))
}

// PublicKeyBytes returns the uncompressed SEC1 encoding of a public key. This
// is the canonical form; peer IDs are derived from it.
func PublicKeyBytes(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(Curve(), pub.X, pub.Y)
}

// PublicKeyHex returns the hex representation of PublicKeyBytes.
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return hex.EncodeToString(PublicKeyBytes(pub))
}

// UnmarshalPublicKey parses an uncompressed SEC1 public key.
func UnmarshalPublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	pub, err := btcec.ParsePubKey(raw, btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %v", err)
	}
	return pub.ToECDSA(), nil
}

// Sign hashes the data with SHA256 and returns a DER-encoded secp256k1
// signature over the digest.
func Sign(priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	sig, err := (*btcec.PrivateKey)(priv).Sign(crypto.SHA256(data))
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// Verify checks a DER-encoded signature produced by Sign against the data and
// the signer's public key.
func Verify(pub *ecdsa.PublicKey, data []byte, sig []byte) bool {
	parsed, err := btcec.ParseDERSignature(sig, btcec.S256())
	if err != nil {
		return false
	}
	return parsed.Verify(crypto.SHA256(data), (*btcec.PublicKey)(pub))
}

// paddedBigBytes encodes a big integer as a big-endian byte slice of at least
// n bytes.
func paddedBigBytes(bigint *big.Int, n int) []byte {
	if bigint.BitLen()/8 >= n {
		return bigint.Bytes()
	}
	ret := make([]byte, n)
	readBits(bigint, ret)
	return ret
}

const (
	wordBits  = 32 << (uint64(^big.Word(0)) >> 63)
	wordBytes = wordBits / 8
)

// readBits encodes the absolute value of bigint as big-endian bytes. Callers
// must ensure that buf has enough space.
func readBits(bigint *big.Int, buf []byte) {
	i := len(buf)
	for _, d := range bigint.Bits() {
		for j := 0; j < wordBytes && i > 0; j++ {
			i--
			buf[i] = byte(d)
			d >>= 8
		}
	}
}
