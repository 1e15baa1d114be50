package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature is malformed or does not
// recover to the expected address.
var ErrInvalidSignature = errors.New("invalid signature")

// Signer manages ECDSA key pairs for signing orders and transactions
// Uses secp256k1 curve (Ethereum-compatible)
type Signer struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	address    common.Address
}

// GenerateKey creates a new random secp256k1 key pair
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(privateKey)
}

// FromPrivateKeyHex creates a Signer from a hex-encoded private key
// Format: "0x1234..." or "1234..." (64 hex chars)
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey)
}

func newSigner(privateKey *ecdsa.PrivateKey) (*Signer, error) {
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}
	return &Signer{
		privateKey: privateKey,
		publicKey:  publicKeyECDSA,
		address:    crypto.PubkeyToAddress(*publicKeyECDSA),
	}, nil
}

// Address returns the Ethereum address derived from the public key
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex string (WITHOUT 0x prefix)
// WARNING: Keep this secret! Never expose to users or logs
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte hash and returns the signature in [R || S || V]
// format (65 bytes) with V in {0, 1}.
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}

	signature, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	return signature, nil
}

// SignPersonal signs digest as an Ethereum personal message, the way
// eth_sign / signMessage wallets do. V is returned as 27 or 28.
func (s *Signer) SignPersonal(digest common.Hash) ([]byte, error) {
	return s.signWithOffset(accounts.TextHash(digest.Bytes()))
}

// SignDigest signs digest directly, as eth_signTypedData does for EIP-712
// digests. V is returned as 27 or 28.
func (s *Signer) SignDigest(digest common.Hash) ([]byte, error) {
	return s.signWithOffset(digest.Bytes())
}

func (s *Signer) signWithOffset(hash []byte) ([]byte, error) {
	sig, err := s.Sign(hash)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverPersonal recovers the address that signed digest as a personal
// message. V may be 0, 1, 27 or 28; high-S signatures are rejected.
func RecoverPersonal(digest common.Hash, signature []byte) (common.Address, error) {
	return recoverHash(accounts.TextHash(digest.Bytes()), signature)
}

// RecoverDigest recovers the address that signed digest without the
// personal-message prefix.
func RecoverDigest(digest common.Hash, signature []byte) (common.Address, error) {
	return recoverHash(digest.Bytes(), signature)
}

func recoverHash(hash []byte, signature []byte) (common.Address, error) {
	sig, err := normalizeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}

	publicKeyBytes, err := crypto.Ecrecover(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: failed to recover public key: %v", ErrInvalidSignature, err)
	}

	publicKey, err := crypto.UnmarshalPubkey(publicKeyBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: failed to unmarshal public key: %v", ErrInvalidSignature, err)
	}

	return crypto.PubkeyToAddress(*publicKey), nil
}

// VerifyPersonal reports whether signature is address's personal-message
// signature over digest.
func VerifyPersonal(address common.Address, digest common.Hash, signature []byte) bool {
	recovered, err := RecoverPersonal(digest, signature)
	if err != nil {
		return false
	}
	return recovered == address
}

// normalizeSignature copies sig, maps V from 27/28 to 0/1 and validates
// the R, S, V components.
func normalizeSignature(signature []byte) ([]byte, error) {
	if len(signature) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrInvalidSignature, len(signature), crypto.SignatureLength)
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	r, s, v, _ := SignatureToRSV(sig)
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return nil, fmt.Errorf("%w: invalid r, s, v values", ErrInvalidSignature)
	}
	return sig, nil
}

// SignatureToRSV splits a 65-byte signature into R, S, V components
func SignatureToRSV(signature []byte) (r, s *big.Int, v uint8, err error) {
	if len(signature) != 65 {
		return nil, nil, 0, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	r = new(big.Int).SetBytes(signature[:32])
	s = new(big.Int).SetBytes(signature[32:64])
	v = signature[64]

	return r, s, v, nil
}

// GenerateNonce returns a random 256-bit order nonce.
// Order nonces are not sequential, only unique per signer.
func GenerateNonce() (*big.Int, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return new(big.Int).SetBytes(buf), nil
}
