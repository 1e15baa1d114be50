// Command sign-order builds a signed settle transaction for one collectible
// sale and prints it as JSON, ready for POST /api/v1/txs. With -onboard it
// first prints the create_proxy and approval transactions both parties need.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/app/core/asset"
	"github.com/uhyunpark/hyperswap/pkg/app/core/order"
	"github.com/uhyunpark/hyperswap/pkg/app/core/proxy"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

func main() {
	def := params.Default()
	genesis := params.DefaultGenesis()

	sellerKey := flag.String("seller-key", "", "seller private key hex (generated when empty)")
	buyerKey := flag.String("buyer-key", "", "buyer private key hex (generated when empty)")
	nft := flag.String("nft", genesis.Collectibles[0].Address, "collectible contract")
	token := flag.String("token", genesis.Tokens[0].Address, "payment token contract")
	tokenID := flag.String("id", "1", "collectible token id")
	price := flag.String("price", "100", "price in token base units")
	feeRate := flag.Uint64("fee", 10, "fee rate, whole percent")
	nonce := flag.String("nonce", "1", "order nonce")
	expires := flag.Uint64("expires", 0, "expiration height, 0 = never")
	exchange := flag.String("exchange", def.Protocol.ExchangeAddress.Hex(), "exchange (proxy registry) address")
	onboard := flag.Bool("onboard", false, "also emit create_proxy and approval transactions")
	flag.Parse()

	seller := loadSigner("seller", *sellerKey)
	buyer := loadSigner("buyer", *buyerKey)

	id, err := params.ParseTokenID(*tokenID)
	exitOn("token id", err)
	p, ok := new(big.Int).SetString(*price, 10)
	if !ok {
		exitOn("price", fmt.Errorf("invalid integer %q", *price))
	}
	n, ok := new(big.Int).SetString(*nonce, 10)
	if !ok {
		exitOn("nonce", fmt.Errorf("invalid integer %q", *nonce))
	}
	nftAddr := common.HexToAddress(*nft)
	tokenAddr := common.HexToAddress(*token)

	// Both parties sign the same terms; only Signer differs.
	payload := asset.TransferFromCalldata(seller.Address(), buyer.Address(), id)
	mk := func(signer common.Address) *order.Order {
		return &order.Order{
			Signer:           signer,
			Target:           nftAddr,
			ActionPayload:    payload,
			PaymentAsset:     tokenAddr,
			Price:            p,
			FeeRate:          *feeRate,
			ExpirationHeight: *expires,
			Nonce:            n,
		}
	}
	sell, buy := mk(seller.Address()), mk(buyer.Address())
	exitOn("order", sell.Validate())

	scheme := crypto.PackedScheme()
	sellDigest, sellSig, err := scheme.SignOrder(seller, sell)
	exitOn("sign sell", err)
	buyDigest, buySig, err := scheme.SignOrder(buyer, buy)
	exitOn("sign buy", err)

	var txs []*transaction.SignedTransaction
	if *onboard {
		exchangeAddr := common.HexToAddress(*exchange)
		sellerProxy := proxy.Address(exchangeAddr, seller.Address())
		buyerProxy := proxy.Address(exchangeAddr, buyer.Address())
		txs = append(txs,
			must(transaction.NewCreateProxy(seller, 1)),
			must(transaction.NewCreateProxy(buyer, 1)),
			must(transaction.NewCall(seller, nftAddr, asset.SetApprovalForAllCalldata(sellerProxy, true), 2)),
			must(transaction.NewCall(buyer, tokenAddr, asset.ApproveCalldata(buyerProxy, math.MaxBig256), 2)),
		)
		fmt.Fprintf(os.Stderr, "Seller proxy: %s\nBuyer proxy:  %s\n", sellerProxy.Hex(), buyerProxy.Hex())
	}
	settle := transaction.NewSettle(sell, buy, [2][]byte{sellSig, buySig}, nil)
	txs = append(txs, settle)

	// Round-trip through the node's decoder before printing.
	if _, err := transaction.NewVerifier().DecodeSettle(settle); err != nil {
		exitOn("verify", err)
	}
	for i, sig := range [][]byte{sellSig, buySig} {
		digest, want := sellDigest, seller.Address()
		if i == 1 {
			digest, want = buyDigest, buyer.Address()
		}
		exitOn("verify", scheme.Verify(want, digest, sig))
	}

	fmt.Fprintf(os.Stderr, "Sell digest: %s\nBuy digest:  %s\n\n", sellDigest.Hex(), buyDigest.Hex())

	enc := json.NewEncoder(os.Stdout)
	for _, tx := range txs {
		exitOn("encode", enc.Encode(tx))
	}
}

func loadSigner(role, key string) *crypto.Signer {
	if key != "" {
		s, err := crypto.FromPrivateKeyHex(key)
		exitOn(role+" key", err)
		return s
	}
	s, err := crypto.GenerateKey()
	exitOn(role+" key", err)
	fmt.Fprintf(os.Stderr, "%s: %s (key %s, KEEP SECRET!)\n", role, s.Address().Hex(), s.PrivateKeyHex())
	return s
}

func must(tx *transaction.SignedTransaction, err error) *transaction.SignedTransaction {
	exitOn("build tx", err)
	return tx
}

func exitOn(what string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error (%s): %v\n", what, err)
		os.Exit(1)
	}
}
