package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperswap/pkg/app/core/order"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeCreateProxy TxType = "create_proxy" // Register the sender's escrow proxy
	TxTypeCall        TxType = "call"         // Direct contract call (approvals, transfers)
	TxTypeCancel      TxType = "cancel"       // Close an order digest
	TxTypeSettle      TxType = "settle"       // Settle a sell/buy order pair
	TxTypeExchange    TxType = "exchange"     // Settle, compact form sharing the common terms
)

// SignedTransaction is the JSON envelope every transaction travels in.
// create_proxy, call and cancel carry an account signature in Signature;
// settle is authorized by the order signatures inside its payload.
type SignedTransaction struct {
	Type        TxType              `json:"type"`
	CreateProxy *CreateProxyPayload `json:"create_proxy,omitempty"`
	Call        *CallPayload        `json:"call,omitempty"`
	Cancel      *CancelPayload      `json:"cancel,omitempty"`
	Settle      *SettlePayload      `json:"settle,omitempty"`
	Exchange    *ExchangePayload    `json:"exchange,omitempty"`
	Signature   string              `json:"signature,omitempty"` // Hex-encoded signature (0x...)
}

// OrderPayload is the wire form of an order
type OrderPayload struct {
	Signer           string        `json:"signer"`
	Target           string        `json:"target"`
	ActionPayload    hexutil.Bytes `json:"action_payload"`
	PaymentAsset     string        `json:"payment_asset"`
	Price            string        `json:"price"` // BigInt as string
	FeeRate          uint64        `json:"fee_rate"`
	ExpirationHeight uint64        `json:"expiration_height"` // 0 = no expiry
	Nonce            string        `json:"nonce"`             // BigInt as string
}

// CreateProxyPayload requests the owner's escrow proxy
type CreateProxyPayload struct {
	Owner string `json:"owner"`
	Nonce uint64 `json:"nonce"`
}

// CallPayload calls Target with Data as From
type CallPayload struct {
	From   string        `json:"from"`
	Target string        `json:"target"`
	Data   hexutil.Bytes `json:"data"`
	Nonce  uint64        `json:"nonce"`
}

// CancelPayload closes an order. Signature is the order's own signature;
// the envelope Signature is the signer's over nonce.CancelDigest.
type CancelPayload struct {
	Order     OrderPayload `json:"order"`
	Signature string       `json:"signature"`
}

// SettlePayload carries both orders and their signatures [sell, buy]
type SettlePayload struct {
	Sell            OrderPayload    `json:"sell"`
	Buy             OrderPayload    `json:"buy"`
	RuntimePayloads []hexutil.Bytes `json:"runtime_payloads,omitempty"`
	Signatures      [2]string       `json:"signatures"`
}

// ExchangePayload is the compact settle form: the terms both orders share
// plus per-party arrays indexed [seller, buyer].
type ExchangePayload struct {
	Target            string          `json:"target"`
	ActionPayload     hexutil.Bytes   `json:"action_payload"`
	PaymentAsset      string          `json:"payment_asset"`
	Price             string          `json:"price"`
	FeeRate           uint64          `json:"fee_rate"`
	Parties           [2]string       `json:"parties"`
	RuntimePayloads   []hexutil.Bytes `json:"runtime_payloads,omitempty"`
	ExpirationHeights [2]uint64       `json:"expiration_heights"`
	Nonces            [2]string       `json:"nonces"`
	Signatures        [2]string       `json:"signatures"`
}

// ToOrder converts the wire form into an order
func (p *OrderPayload) ToOrder() (*order.Order, error) {
	signer, err := parseAddress("signer", p.Signer)
	if err != nil {
		return nil, err
	}
	target, err := parseAddress("target", p.Target)
	if err != nil {
		return nil, err
	}
	paymentAsset, err := parseAddress("payment_asset", p.PaymentAsset)
	if err != nil {
		return nil, err
	}
	price, err := parseBig("price", p.Price)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}

	o := &order.Order{
		Signer:           signer,
		Target:           target,
		ActionPayload:    common.CopyBytes(p.ActionPayload),
		PaymentAsset:     paymentAsset,
		Price:            price,
		FeeRate:          p.FeeRate,
		ExpirationHeight: p.ExpirationHeight,
		Nonce:            nonce,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// FromOrder converts an order to its wire form
func FromOrder(o *order.Order) OrderPayload {
	return OrderPayload{
		Signer:           o.Signer.Hex(),
		Target:           o.Target.Hex(),
		ActionPayload:    common.CopyBytes(o.ActionPayload),
		PaymentAsset:     o.PaymentAsset.Hex(),
		Price:            o.Price.String(),
		FeeRate:          o.FeeRate,
		ExpirationHeight: o.ExpirationHeight,
		Nonce:            o.Nonce.String(),
	}
}

// ToSettle expands the compact form into two full orders
func (e *ExchangePayload) ToSettle() *SettlePayload {
	mk := func(i int) OrderPayload {
		return OrderPayload{
			Signer:           e.Parties[i],
			Target:           e.Target,
			ActionPayload:    e.ActionPayload,
			PaymentAsset:     e.PaymentAsset,
			Price:            e.Price,
			FeeRate:          e.FeeRate,
			ExpirationHeight: e.ExpirationHeights[i],
			Nonce:            e.Nonces[i],
		}
	}
	return &SettlePayload{
		Sell:            mk(0),
		Buy:             mk(1),
		RuntimePayloads: e.RuntimePayloads,
		Signatures:      e.Signatures,
	}
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid %s address %q", order.ErrInvalidOrder, field, s)
	}
	return common.HexToAddress(s), nil
}

func parseBig(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid %s %q", order.ErrInvalidOrder, field, s)
	}
	return v, nil
}

// CreateProxyDigest is the digest an owner signs to create their proxy
func CreateProxyDigest(owner common.Address, nonce uint64) common.Hash {
	return ethCrypto.Keccak256Hash([]byte(fmt.Sprintf("CREATE_PROXY:%s:%d", owner.Hex(), nonce)))
}

// CallDigest is the digest a sender signs to authorize a direct call
func CallDigest(from, target common.Address, data []byte, nonce uint64) common.Hash {
	return ethCrypto.Keccak256Hash([]byte(fmt.Sprintf("CALL:%s:%s:%x:%d", from.Hex(), target.Hex(), data, nonce)))
}

// Hash identifies a raw transaction
func Hash(raw []byte) common.Hash {
	return ethCrypto.Keccak256Hash(raw)
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	switch tx.Type {
	case "":
		return fmt.Errorf("missing transaction type")

	case TxTypeCreateProxy:
		if tx.CreateProxy == nil {
			return fmt.Errorf("create_proxy type requires create_proxy payload")
		}
		if !common.IsHexAddress(tx.CreateProxy.Owner) {
			return fmt.Errorf("invalid proxy owner %q", tx.CreateProxy.Owner)
		}
		if tx.Signature == "" {
			return fmt.Errorf("missing signature")
		}

	case TxTypeCall:
		if tx.Call == nil {
			return fmt.Errorf("call type requires call payload")
		}
		if !common.IsHexAddress(tx.Call.From) || !common.IsHexAddress(tx.Call.Target) {
			return fmt.Errorf("invalid call addresses")
		}
		if tx.Signature == "" {
			return fmt.Errorf("missing signature")
		}

	case TxTypeCancel:
		if tx.Cancel == nil {
			return fmt.Errorf("cancel type requires cancel payload")
		}
		if tx.Cancel.Signature == "" {
			return fmt.Errorf("missing order signature")
		}
		if tx.Signature == "" {
			return fmt.Errorf("missing signature")
		}

	case TxTypeSettle:
		if tx.Settle == nil {
			return fmt.Errorf("settle type requires settle payload")
		}

	case TxTypeExchange:
		if tx.Exchange == nil {
			return fmt.Errorf("exchange type requires exchange payload")
		}

	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}

	return nil
}

// SettlePayload returns the settle payload of a settle or exchange transaction
func (tx *SignedTransaction) SettlePayload() *SettlePayload {
	switch tx.Type {
	case TxTypeSettle:
		return tx.Settle
	case TxTypeExchange:
		if tx.Exchange != nil {
			return tx.Exchange.ToSettle()
		}
	}
	return nil
}

// ParseTransaction decodes and structurally validates a raw transaction
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTx, err)
	}

	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTx, err)
	}

	return tx, nil
}

// Example settle transaction:
//   {
//     "type": "settle",
//     "settle": {
//       "sell": {"signer": "0x5e11...", "target": "0x8000...", "action_payload": "0x23b872dd...",
//                "payment_asset": "0x7000...", "price": "100", "fee_rate": 10,
//                "expiration_height": 0, "nonce": "1"},
//       "buy":  {"signer": "0xb0e4...", ...same terms, own nonce...},
//       "runtime_payloads": ["0x23b872dd...", "0x23b872dd..."],
//       "signatures": ["0x...", "0x..."]
//     }
//   }
