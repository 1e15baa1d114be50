package order

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func sampleOrder() *Order {
	return &Order{
		Signer:           common.HexToAddress("0x1000000000000000000000000000000000000001"),
		Target:           common.HexToAddress("0x2000000000000000000000000000000000000002"),
		ActionPayload:    common.FromHex("0x23b872dd0000000000000000000000000000000000000000000000000000000000000000"),
		PaymentAsset:     common.HexToAddress("0x3000000000000000000000000000000000000003"),
		Price:            big.NewInt(100),
		FeeRate:          10,
		ExpirationHeight: 0,
		Nonce:            big.NewInt(1),
	}
}

// soliditySha3 rebuilds abi.encodePacked independently of Encode.
func soliditySha3(o *Order) common.Hash {
	return eth_crypto.Keccak256Hash(
		o.Signer.Bytes(),
		o.Target.Bytes(),
		o.ActionPayload,
		o.PaymentAsset.Bytes(),
		math.U256Bytes(new(big.Int).Set(o.Price)),
		math.U256Bytes(new(big.Int).SetUint64(o.FeeRate)),
		math.U256Bytes(new(big.Int).SetUint64(o.ExpirationHeight)),
		math.U256Bytes(new(big.Int).Set(o.Nonce)),
	)
}

func TestHashMatchesPackedEncoding(t *testing.T) {
	o := sampleOrder()

	got := Hash(o)
	if want := soliditySha3(o); got != want {
		t.Fatalf("Hash = %s, want %s", got.Hex(), want.Hex())
	}
	if want := eth_crypto.Keccak256Hash(Encode(o)); got != want {
		t.Fatalf("Hash(o) != keccak(Encode(o))")
	}
	if n := len(Encode(o)); n != fixedEncodedLen+len(o.ActionPayload) {
		t.Errorf("encoded length = %d, want %d", n, fixedEncodedLen+len(o.ActionPayload))
	}
}

// Digests computed outside Go with soliditySha3 over the same argument
// list (address, address, bytes, address, uint256 x4).
func TestHashGoldenDigests(t *testing.T) {
	seller := common.HexToAddress("0x5e11000000000000000000000000000000000005")
	buyer := common.HexToAddress("0xb0e4000000000000000000000000000000000004")
	payload := append(common.FromHex("0x23b872dd"), common.LeftPadBytes(seller.Bytes(), 32)...)
	payload = append(payload, common.LeftPadBytes(buyer.Bytes(), 32)...)
	payload = append(payload, common.LeftPadBytes([]byte{7}, 32)...)

	nonce := new(big.Int).Lsh(big.NewInt(1), 255)
	nonce.Add(nonce, big.NewInt(7))

	tests := []struct {
		name  string
		order *Order
		want  string
	}{
		{"sample", sampleOrder(), "0x18000977f7e11dc37c60ea58004bcf3d504ec96a2d138d581f5dfb59668b0dd4"},
		{"transferFrom with expiry", &Order{
			Signer:           seller,
			Target:           common.HexToAddress("0x8000000000000000000000000000000000000008"),
			ActionPayload:    payload,
			PaymentAsset:     common.HexToAddress("0x7000000000000000000000000000000000000007"),
			Price:            new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
			FeeRate:          2,
			ExpirationHeight: 12345,
			Nonce:            nonce,
		}, "0x452212cc2db2bd76b35912f831848ea26df1937725257df6197c9c97b836a925"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Hash(tt.order); got != common.HexToHash(tt.want) {
				t.Fatalf("Hash = %s, want %s", got.Hex(), tt.want)
			}
		})
	}
}

func TestHashCoversEveryField(t *testing.T) {
	base := Hash(sampleOrder())

	tests := []struct {
		name   string
		mutate func(o *Order)
	}{
		{"signer", func(o *Order) { o.Signer = common.HexToAddress("0x9") }},
		{"target", func(o *Order) { o.Target = common.HexToAddress("0x9") }},
		{"payload", func(o *Order) { o.ActionPayload = append(o.ActionPayload, 0x01) }},
		{"payment asset", func(o *Order) { o.PaymentAsset = common.HexToAddress("0x9") }},
		{"price", func(o *Order) { o.Price = big.NewInt(101) }},
		{"fee rate", func(o *Order) { o.FeeRate = 11 }},
		{"expiration", func(o *Order) { o.ExpirationHeight = 5 }},
		{"nonce", func(o *Order) { o.Nonce = big.NewInt(2) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := sampleOrder()
			tt.mutate(o)
			if Hash(o) == base {
				t.Errorf("changing %s did not change the digest", tt.name)
			}
		})
	}
}

func TestPackedHasherRejectsInvalidOrders(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Order)
	}{
		{"nil price", func(o *Order) { o.Price = nil }},
		{"nil nonce", func(o *Order) { o.Nonce = nil }},
		{"negative price", func(o *Order) { o.Price = big.NewInt(-1) }},
		{"price overflow", func(o *Order) { o.Price = new(big.Int).Lsh(big.NewInt(1), 256) }},
		{"fee rate over 100", func(o *Order) { o.FeeRate = 101 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := sampleOrder()
			tt.mutate(o)
			if _, err := (PackedHasher{}).Hash(o); !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("err = %v, want ErrInvalidOrder", err)
			}
		})
	}

	max := sampleOrder()
	max.Price = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if _, err := (PackedHasher{}).Hash(max); err != nil {
		t.Errorf("2^256-1 price rejected: %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	o := sampleOrder()
	c := o.Clone()
	c.ActionPayload[0] = 0xff
	c.Price.SetInt64(7)

	if o.ActionPayload[0] == 0xff || o.Price.Int64() == 7 {
		t.Fatal("Clone shares memory with the original")
	}
}

func TestHashProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hash is deterministic", prop.ForAll(
		func(payload []byte, price uint64, nonce uint64) bool {
			o := sampleOrder()
			o.ActionPayload = payload
			o.Price = new(big.Int).SetUint64(price)
			o.Nonce = new(big.Int).SetUint64(nonce)
			return Hash(o) == Hash(o.Clone())
		},
		gen.SliceOf(gen.UInt8()),
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.Property("orders differing only by nonce differ", prop.ForAll(
		func(payload []byte, a uint64, b uint64) bool {
			if a == b {
				return true
			}
			o1 := sampleOrder()
			o1.ActionPayload = payload
			o1.Nonce = new(big.Int).SetUint64(a)
			o2 := o1.Clone()
			o2.Nonce = new(big.Int).SetUint64(b)
			return Hash(o1) != Hash(o2)
		},
		gen.SliceOf(gen.UInt8()),
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.Property("encoding embeds the payload verbatim", prop.ForAll(
		func(payload []byte) bool {
			o := sampleOrder()
			o.ActionPayload = payload
			enc := Encode(o)
			start := 2 * common.AddressLength
			return len(enc) == fixedEncodedLen+len(payload) &&
				bytes.Equal(enc[start:start+len(payload)], payload)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
