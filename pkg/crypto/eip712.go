package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hyperswap/pkg/app/core/order"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/contracts
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "HyperSwap")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local, 1 for mainnet)
	VerifyingContract common.Address // Exchange address
}

// DefaultDomain returns the default EIP-712 domain for HyperSwap
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "HyperSwap",
		Version:           "1",
		ChainID:           big.NewInt(1337), // Local dev chain
		VerifyingContract: common.Address{},
	}
}

var eip712Types = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "signer", Type: "address"},
		{Name: "target", Type: "address"},
		{Name: "actionPayload", Type: "bytes"},
		{Name: "paymentAsset", Type: "address"},
		{Name: "price", Type: "uint256"},
		{Name: "feeRate", Type: "uint256"},
		{Name: "expirationHeight", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
}

// EIP712OrderHasher digests orders as EIP-712 typed data. It is the
// alternative to order.PackedHasher for wallets that sign typed data.
type EIP712OrderHasher struct {
	domain EIP712Domain
}

var _ order.Hasher = (*EIP712OrderHasher)(nil)

// NewEIP712OrderHasher creates a hasher bound to domain
func NewEIP712OrderHasher(domain EIP712Domain) *EIP712OrderHasher {
	return &EIP712OrderHasher{domain: domain}
}

func (e *EIP712OrderHasher) typedData(o *order.Order) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       eip712Types,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"signer":           o.Signer.Hex(),
			"target":           o.Target.Hex(),
			"actionPayload":    hexutil.Bytes(o.ActionPayload),
			"paymentAsset":     o.PaymentAsset.Hex(),
			"price":            o.Price.String(),
			"feeRate":          fmt.Sprintf("%d", o.FeeRate),
			"expirationHeight": fmt.Sprintf("%d", o.ExpirationHeight),
			"nonce":            o.Nonce.String(),
		},
	}
}

// Hash returns keccak256("\x19\x01" || domainSeparator || hashStruct(order))
func (e *EIP712OrderHasher) Hash(o *order.Order) (common.Hash, error) {
	if err := o.Validate(); err != nil {
		return common.Hash{}, err
	}
	typedData := e.typedData(o)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData), nil
}

// OrderToJSON renders the typed data for eth_signTypedData_v4 wallets
func (e *EIP712OrderHasher) OrderToJSON(o *order.Order) (string, error) {
	jsonBytes, err := json.MarshalIndent(e.typedData(o), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
