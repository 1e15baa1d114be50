package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/order"
)

// Digest scheme names accepted by SchemeByName
const (
	SchemePacked = "packed"
	SchemeEIP712 = "eip712"
)

// DigestScheme pairs an order hasher with the way signatures over its
// digests are produced. Packed digests are signed as personal messages;
// EIP-712 digests are signed directly.
type DigestScheme struct {
	Name     string
	hasher   order.Hasher
	personal bool
}

// PackedScheme is the default scheme: packed keccak digest, personal-message signatures.
func PackedScheme() *DigestScheme {
	return &DigestScheme{Name: SchemePacked, hasher: order.PackedHasher{}, personal: true}
}

// EIP712Scheme digests orders as typed data under domain.
func EIP712Scheme(domain EIP712Domain) *DigestScheme {
	return &DigestScheme{Name: SchemeEIP712, hasher: NewEIP712OrderHasher(domain)}
}

// SchemeByName resolves a configured scheme name.
func SchemeByName(name string, domain EIP712Domain) (*DigestScheme, error) {
	switch name {
	case "", SchemePacked:
		return PackedScheme(), nil
	case SchemeEIP712:
		return EIP712Scheme(domain), nil
	default:
		return nil, fmt.Errorf("unknown digest scheme %q", name)
	}
}

// Hash implements order.Hasher.
func (s *DigestScheme) Hash(o *order.Order) (common.Hash, error) {
	return s.hasher.Hash(o)
}

// Recover returns the address that signed digest under this scheme.
func (s *DigestScheme) Recover(digest common.Hash, signature []byte) (common.Address, error) {
	if s.personal {
		return RecoverPersonal(digest, signature)
	}
	return RecoverDigest(digest, signature)
}

// Verify checks that signature over digest recovers to want, returning
// ErrInvalidSignature otherwise.
func (s *DigestScheme) Verify(want common.Address, digest common.Hash, signature []byte) error {
	got, err := s.Recover(digest, signature)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: recovered %s, want %s", ErrInvalidSignature, got.Hex(), want.Hex())
	}
	return nil
}

// SignOrder hashes o and signs the digest with signer.
func (s *DigestScheme) SignOrder(signer *Signer, o *order.Order) (common.Hash, []byte, error) {
	digest, err := s.Hash(o)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("failed to hash order: %w", err)
	}
	var sig []byte
	if s.personal {
		sig, err = signer.SignPersonal(digest)
	} else {
		sig, err = signer.SignDigest(digest)
	}
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("failed to sign order: %w", err)
	}
	return digest, sig, nil
}
