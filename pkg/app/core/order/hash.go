package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// fixedEncodedLen is the packed length of everything except the payload:
// three addresses and four uint256 words.
const fixedEncodedLen = 3*common.AddressLength + 4*32

// Hasher turns an order into the digest both parties sign.
type Hasher interface {
	Hash(o *Order) (common.Hash, error)
}

// PackedHasher is the default Hasher. Its digest equals Solidity's
// keccak256(abi.encodePacked(signer, target, payload, paymentAsset,
// price, feeRate, expiration, nonce)).
type PackedHasher struct{}

// Hash validates o and returns its packed digest.
func (PackedHasher) Hash(o *Order) (common.Hash, error) {
	if err := o.Validate(); err != nil {
		return common.Hash{}, err
	}
	return Hash(o), nil
}

// Hash returns the packed keccak-256 digest of o. The payload is the only
// variable-length field, so the encoding is unambiguous.
// Callers must have validated o.
func Hash(o *Order) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(o.Signer.Bytes())
	h.Write(o.Target.Bytes())
	h.Write(o.ActionPayload)
	h.Write(o.PaymentAsset.Bytes())
	h.Write(word(o.Price))
	h.Write(word(new(big.Int).SetUint64(o.FeeRate)))
	h.Write(word(new(big.Int).SetUint64(o.ExpirationHeight)))
	h.Write(word(o.Nonce))

	var digest common.Hash
	h.Sum(digest[:0])
	return digest
}

// Encode returns the packed encoding that Hash digests.
func Encode(o *Order) []byte {
	buf := make([]byte, 0, fixedEncodedLen+len(o.ActionPayload))
	buf = append(buf, o.Signer.Bytes()...)
	buf = append(buf, o.Target.Bytes()...)
	buf = append(buf, o.ActionPayload...)
	buf = append(buf, o.PaymentAsset.Bytes()...)
	buf = append(buf, word(o.Price)...)
	buf = append(buf, word(new(big.Int).SetUint64(o.FeeRate))...)
	buf = append(buf, word(new(big.Int).SetUint64(o.ExpirationHeight))...)
	buf = append(buf, word(o.Nonce)...)
	return buf
}

// word left-pads v to a 32-byte big-endian word.
func word(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return common.BigToHash(v).Bytes()
}
