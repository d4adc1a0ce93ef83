package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PublicKeyLength is the length in bytes of a compressed secp256k1 public key,
// the key format required for admin payload requesters and voters.
const PublicKeyLength = 33

// Sign produces a 64-byte compressed secp256k1 signature (no recovery byte)
// over the SHA-256 digest of msg.
func Sign(priv *PrivateKey, msg []byte) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("crypto: nil private key")
	}
	digest := sha256.Sum256(msg)
	sig, err := ethcrypto.Sign(digest[:], priv.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	// Drop the trailing recovery id; verification is by public key, not recovery.
	return sig[:64], nil
}

// Verify checks a 64 or 65-byte secp256k1 signature over the SHA-256 digest of
// msg against a 33-byte compressed public key.
func Verify(pubKey, msg, sig []byte) bool {
	if len(pubKey) != PublicKeyLength {
		return false
	}
	if len(sig) != 64 && len(sig) != 65 {
		return false
	}
	digest := sha256.Sum256(msg)
	return ethcrypto.VerifySignature(pubKey, digest[:], sig[:64])
}
