package transaction

import (
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/asset"
	"github.com/uhyunpark/hyperswap/pkg/app/core/nonce"
	"github.com/uhyunpark/hyperswap/pkg/app/core/order"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var (
	tokenAddr = common.HexToAddress("0x7000000000000000000000000000000000000007")
	nftAddr   = common.HexToAddress("0x8000000000000000000000000000000000000008")
)

func testOrder(signer common.Address, nonce int64) *order.Order {
	return &order.Order{
		Signer:        signer,
		Target:        nftAddr,
		ActionPayload: asset.TransferFromCalldata(common.Address{}, common.Address{}, big.NewInt(1)),
		PaymentAsset:  tokenAddr,
		Price:         big.NewInt(100),
		FeeRate:       10,
		Nonce:         big.NewInt(nonce),
	}
}

func TestOrderPayloadRoundTrip(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	o := testOrder(signer.Address(), 7)
	o.ExpirationHeight = 42
	o.Nonce, _ = new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)

	p := FromOrder(o)
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back OrderPayload
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := back.ToOrder()
	if err != nil {
		t.Fatalf("ToOrder: %v", err)
	}
	if order.Hash(got) != order.Hash(o) {
		t.Fatalf("digest changed across the wire")
	}
}

func TestOrderPayloadRejectsMalformedFields(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	base := FromOrder(testOrder(signer.Address(), 1))

	tests := []struct {
		name   string
		mutate func(*OrderPayload)
	}{
		{"bad signer", func(p *OrderPayload) { p.Signer = "0x1234" }},
		{"bad target", func(p *OrderPayload) { p.Target = "nft" }},
		{"bad payment asset", func(p *OrderPayload) { p.PaymentAsset = "" }},
		{"non-numeric price", func(p *OrderPayload) { p.Price = "1e18" }},
		{"negative price", func(p *OrderPayload) { p.Price = "-1" }},
		{"empty nonce", func(p *OrderPayload) { p.Nonce = "" }},
		{"fee rate over 100", func(p *OrderPayload) { p.FeeRate = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			if _, err := p.ToOrder(); !errors.Is(err, order.ErrInvalidOrder) {
				t.Fatalf("err = %v, want ErrInvalidOrder", err)
			}
		})
	}
}

func TestExchangeExpandsToTwoOrders(t *testing.T) {
	seller, _ := crypto.GenerateKey()
	buyer, _ := crypto.GenerateKey()
	sell := testOrder(seller.Address(), 1)
	buy := testOrder(buyer.Address(), 2)
	buy.ExpirationHeight = 9

	scheme := crypto.PackedScheme()
	_, sellSig, _ := scheme.SignOrder(seller, sell)
	_, buySig, _ := scheme.SignOrder(buyer, buy)

	tx := &SignedTransaction{
		Type: TxTypeExchange,
		Exchange: &ExchangePayload{
			Target:            nftAddr.Hex(),
			ActionPayload:     sell.ActionPayload,
			PaymentAsset:      tokenAddr.Hex(),
			Price:             "100",
			FeeRate:           10,
			Parties:           [2]string{seller.Address().Hex(), buyer.Address().Hex()},
			ExpirationHeights: [2]uint64{0, 9},
			Nonces:            [2]string{"1", "2"},
			Signatures:        [2]string{EncodeSignature(sellSig), EncodeSignature(buySig)},
		},
	}
	raw, _ := tx.Serialize()
	parsed, err := ParseTransaction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	req, err := NewVerifier().DecodeSettle(parsed)
	if err != nil {
		t.Fatalf("DecodeSettle: %v", err)
	}
	if order.Hash(req.Sell) != order.Hash(sell) || order.Hash(req.Buy) != order.Hash(buy) {
		t.Fatal("expanded orders differ from the signed ones")
	}
	if err := scheme.Verify(buyer.Address(), order.Hash(req.Buy), req.Signatures[1]); err != nil {
		t.Fatalf("buy signature: %v", err)
	}
}

func TestSettleBuilderDecodes(t *testing.T) {
	seller, _ := crypto.GenerateKey()
	buyer, _ := crypto.GenerateKey()
	sell := testOrder(seller.Address(), 1)
	buy := testOrder(buyer.Address(), 1)
	runtime := asset.TransferFromCalldata(seller.Address(), buyer.Address(), big.NewInt(1))

	tx := NewSettle(sell, buy, [2][]byte{make([]byte, 65), make([]byte, 65)}, [][]byte{runtime, runtime})
	raw, _ := tx.Serialize()
	parsed, err := ParseTransaction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	req, err := NewVerifier().DecodeSettle(parsed)
	if err != nil {
		t.Fatalf("DecodeSettle: %v", err)
	}
	if len(req.RuntimePayloads) != 2 || string(req.RuntimePayloads[0]) != string(runtime) {
		t.Fatalf("runtime payloads = %x", req.RuntimePayloads)
	}
}

func TestVerifyCreateProxy(t *testing.T) {
	owner, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	v := NewVerifier()

	tx, err := NewCreateProxy(owner, 3)
	if err != nil {
		t.Fatalf("NewCreateProxy: %v", err)
	}
	got, n, err := v.VerifyCreateProxy(tx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != owner.Address() || n != 3 {
		t.Fatalf("got (%s, %d)", got.Hex(), n)
	}

	forged := *tx
	forged.CreateProxy = &CreateProxyPayload{Owner: other.Address().Hex(), Nonce: 3}
	if _, _, err := v.VerifyCreateProxy(&forged); !errors.Is(err, crypto.ErrInvalidSignature) {
		t.Fatalf("forged owner: err = %v", err)
	}

	replayed := *tx
	replayed.CreateProxy = &CreateProxyPayload{Owner: tx.CreateProxy.Owner, Nonce: 4}
	if _, _, err := v.VerifyCreateProxy(&replayed); !errors.Is(err, crypto.ErrInvalidSignature) {
		t.Fatalf("changed nonce: err = %v", err)
	}
}

func TestVerifyCall(t *testing.T) {
	sender, _ := crypto.GenerateKey()
	v := NewVerifier()
	data := asset.ApproveCalldata(common.HexToAddress("0x01"), big.NewInt(5))

	tx, err := NewCall(sender, tokenAddr, data, 1)
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}
	from, err := v.VerifyCall(tx)
	if err != nil || from != sender.Address() {
		t.Fatalf("verify: from=%s err=%v", from.Hex(), err)
	}

	tx.Call.Data = asset.ApproveCalldata(common.HexToAddress("0x01"), big.NewInt(6))
	if _, err := v.VerifyCall(tx); !errors.Is(err, crypto.ErrInvalidSignature) {
		t.Fatalf("altered data: err = %v", err)
	}
}

func TestDecodeSignature(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"prefixed", "0x" + strings.Repeat("ab", 65), true},
		{"bare", strings.Repeat("ab", 65), true},
		{"short", "0x" + strings.Repeat("ab", 64), false},
		{"not hex", "0x" + strings.Repeat("zz", 65), false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeSignature(tt.input)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, crypto.ErrInvalidSignature) {
				t.Fatalf("err = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"missing type", `{}`, false},
		{"unknown type", `{"type":"order"}`, false},
		{"settle without payload", `{"type":"settle"}`, false},
		{"cancel without order signature", `{"type":"cancel","cancel":{"order":{}},"signature":"0x00"}`, false},
		{"cancel without account signature", `{"type":"cancel","cancel":{"order":{},"signature":"0x00"}}`, false},
		{"create_proxy bad owner", `{"type":"create_proxy","create_proxy":{"owner":"x"},"signature":"0x00"}`, false},
		{"create_proxy unsigned", `{"type":"create_proxy","create_proxy":{"owner":"0x0000000000000000000000000000000000000001"}}`, false},
		{"settle", `{"type":"settle","settle":{}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTransaction([]byte(tt.raw))
			if (err == nil) != tt.ok {
				t.Fatalf("err = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestCancelRoundTrip(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	o := testOrder(signer.Address(), 5)
	scheme := crypto.PackedScheme()
	digest, sig, err := scheme.SignOrder(signer, o)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tx, err := NewCancel(signer, scheme, o, sig)
	if err != nil {
		t.Fatalf("NewCancel: %v", err)
	}
	raw, _ := tx.Serialize()
	parsed, err := ParseTransaction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	req, err := NewVerifier().DecodeCancel(parsed)
	if err != nil {
		t.Fatalf("DecodeCancel: %v", err)
	}
	if order.Hash(req.Order) != order.Hash(o) || string(req.OrderSignature) != string(sig) {
		t.Fatal("cancel payload did not round trip")
	}
	if !crypto.VerifyPersonal(signer.Address(), nonce.CancelDigest(digest), req.Signature) {
		t.Fatal("envelope signature is not the signer's cancel signature")
	}

	parsed.Signature = "0x1234"
	if _, err := NewVerifier().DecodeCancel(parsed); !errors.Is(err, crypto.ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}
