package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/order"
	"github.com/uhyunpark/hyperswap/pkg/app/core/template"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/app/swap"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
	"github.com/uhyunpark/hyperswap/pkg/storage"
)

var (
	exchangeAddr = common.HexToAddress("0xe0c4a00000000000000000000000000000000000")
	teamAddr     = common.HexToAddress("0x7ea4000000000000000000000000000000000001")
	tokenAddr    = common.HexToAddress("0x7000000000000000000000000000000000000007")
	nftAddr      = common.HexToAddress("0x8000000000000000000000000000000000000008")
	holder       = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type testNode struct {
	app    *swap.App
	blocks *storage.InMemoryBlockStore
	server *Server
	height int64
}

func newTestNode(t *testing.T, apiCfg params.API) *testNode {
	t.Helper()
	host, err := swap.BuildHost(&params.Genesis{
		Tokens: []params.GenesisToken{{
			Address:  tokenAddr.Hex(),
			Symbol:   "USDC",
			Decimals: 6,
			Balances: map[string]string{holder.Hex(): "12.5"},
		}},
		Collectibles: []params.GenesisCollectible{{
			Address: nftAddr.Hex(),
			Name:    "Farm",
			Owners:  map[string]string{"7": holder.Hex()},
		}},
	})
	if err != nil {
		t.Fatalf("BuildHost: %v", err)
	}
	logger := zaptest.NewLogger(t)
	app, err := swap.New(swap.Config{
		ExchangeAddress: exchangeAddr,
		FeeRecipient:    teamAddr,
		Scheme:          crypto.PackedScheme(),
		Template:        template.DefaultConfig(),
		MempoolSize:     10,
	}, host, nil, logger)
	if err != nil {
		t.Fatalf("swap.New: %v", err)
	}
	blocks := storage.NewInMemoryBlockStore()
	return &testNode{app: app, blocks: blocks, server: NewServer(app, blocks, apiCfg, logger)}
}

// commit drains the mempool into the next block, as the sequencer would
func (n *testNode) commit(t *testing.T) sequencer.Block {
	t.Helper()
	n.height++
	txs := n.app.PrepareProposal(abci.RequestPrepareProposal{Height: n.height, MaxTxBytes: 1 << 20}).Txs
	resp := n.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: n.height, Timestamp: time.Now().Unix(), Txs: txs})
	b := sequencer.Block{
		Height:   sequencer.Height(n.height),
		Payload:  abci.EncodePayload(txs),
		Proposer: "test",
		Time:     time.Now(),
		AppHash:  resp.AppHash,
	}
	if err := n.blocks.SaveBlock(b); err != nil {
		t.Fatalf("SaveBlock: %v", err)
	}
	return b
}

func (n *testNode) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	n.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func createProxyTx(t *testing.T, s *crypto.Signer, nonce uint64) []byte {
	t.Helper()
	tx, err := transaction.NewCreateProxy(s, nonce)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestHealth(t *testing.T) {
	n := newTestNode(t, params.API{})
	rec := n.do("GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSubmitTxAndReceipt(t *testing.T) {
	n := newTestNode(t, params.API{})
	user, _ := crypto.GenerateKey()
	raw := createProxyTx(t, user, 1)

	rec := n.do("POST", "/api/v1/txs", raw)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d body=%s", rec.Code, rec.Body)
	}
	sub := decode[SubmitTxResponse](t, rec)
	if sub.TxHash != transaction.Hash(raw).Hex() {
		t.Errorf("tx hash = %s, want %s", sub.TxHash, transaction.Hash(raw).Hex())
	}

	if rec := n.do("POST", "/api/v1/txs", raw); rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	if rec := n.do("GET", "/api/v1/txs/"+sub.TxHash, nil); rec.Code != http.StatusNotFound {
		t.Errorf("pending receipt status = %d, want 404", rec.Code)
	}

	n.commit(t)

	rec = n.do("GET", "/api/v1/txs/"+sub.TxHash, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("receipt status = %d", rec.Code)
	}
	receipt := decode[transaction.Receipt](t, rec)
	if receipt.Status != transaction.StatusSuccess || receipt.Proxy == nil {
		t.Errorf("receipt = %+v", receipt)
	}

	proxyInfo := decode[ProxyInfo](t, n.do("GET", "/api/v1/proxies/"+user.Address().Hex(), nil))
	if !proxyInfo.Exists || proxyInfo.Proxy != receipt.Proxy.Address.Hex() || proxyInfo.AccountNonce != 1 {
		t.Errorf("proxy info = %+v", proxyInfo)
	}
}

func TestSubmitTxRejections(t *testing.T) {
	n := newTestNode(t, params.API{})
	tests := []struct {
		name string
		body string
		code int
		kind string
	}{
		{"not json", "nope", http.StatusBadRequest, transaction.KindMalformedTx},
		{"unknown type", `{"type":"order"}`, http.StatusBadRequest, transaction.KindMalformedTx},
		{"missing payload", `{"type":"settle"}`, http.StatusBadRequest, transaction.KindMalformedTx},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := n.do("POST", "/api/v1/txs", []byte(tt.body))
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if got := decode[ErrorResponse](t, rec); got.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", got.Kind, tt.kind)
			}
		})
	}
}

func TestOrderDigestAndStatus(t *testing.T) {
	n := newTestNode(t, params.API{})
	o := &order.Order{
		Signer:        holder,
		Target:        nftAddr,
		ActionPayload: []byte{0xde, 0xad, 0xbe, 0xef},
		PaymentAsset:  tokenAddr,
		Price:         big.NewInt(100),
		FeeRate:       5,
		Nonce:         big.NewInt(1),
	}
	want, err := crypto.PackedScheme().Hash(o)
	if err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(transaction.FromOrder(o))
	rec := n.do("POST", "/api/v1/orders/digest", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	got := decode[OrderStatus](t, rec)
	if got.Digest != want.Hex() || got.Closed || got.Scheme != crypto.SchemePacked {
		t.Errorf("digest response = %+v, want %s open", got, want.Hex())
	}

	status := decode[OrderStatus](t, n.do("GET", "/api/v1/orders/"+want.Hex(), nil))
	if status.Closed {
		t.Error("fresh digest reported closed")
	}

	bad := transaction.FromOrder(o)
	bad.FeeRate = 101
	body, _ = json.Marshal(bad)
	rec = n.do("POST", "/api/v1/orders/digest", body)
	if rec.Code != http.StatusBadRequest || decode[ErrorResponse](t, rec).Kind != "InvalidOrder" {
		t.Errorf("fee rate 101: status = %d body=%s", rec.Code, rec.Body)
	}
}

func TestAssetQueries(t *testing.T) {
	n := newTestNode(t, params.API{})

	rec := n.do("GET", "/api/v1/assets/"+tokenAddr.Hex()+"/balances/"+holder.Hex(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d", rec.Code)
	}
	bal := decode[BalanceInfo](t, rec)
	if bal.Balance != "12500000" || bal.Amount != "12.5" || bal.Symbol != "USDC" || bal.Approved != "0" {
		t.Errorf("balance = %+v", bal)
	}

	owner := decode[OwnerInfo](t, n.do("GET", "/api/v1/assets/"+nftAddr.Hex()+"/owners/7", nil))
	if owner.Owner != holder.Hex() {
		t.Errorf("owner = %s, want %s", owner.Owner, holder.Hex())
	}

	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/assets/" + nftAddr.Hex() + "/balances/" + holder.Hex(), http.StatusNotFound},
		{"/api/v1/assets/" + nftAddr.Hex() + "/owners/8", http.StatusNotFound},
		{"/api/v1/assets/" + nftAddr.Hex() + "/owners/x", http.StatusBadRequest},
		{"/api/v1/assets/0x12/balances/" + holder.Hex(), http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := n.do("GET", tt.path, nil); rec.Code != tt.code {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.code)
		}
	}
}

func TestChainStatusAndBlocks(t *testing.T) {
	n := newTestNode(t, params.API{})
	user, _ := crypto.GenerateKey()
	raw := createProxyTx(t, user, 1)
	if _, err := n.app.SubmitTx(raw); err != nil {
		t.Fatal(err)
	}
	b := n.commit(t)

	status := decode[ChainStatus](t, n.do("GET", "/api/v1/chain/status", nil))
	if status.Height != 1 || status.MempoolSize != 0 || status.FeeRecipient != teamAddr.Hex() {
		t.Errorf("status = %+v", status)
	}
	if status.LastBlockTime != b.Time.UnixMilli() {
		t.Errorf("last block time = %d, want %d", status.LastBlockTime, b.Time.UnixMilli())
	}

	info := decode[BlockInfo](t, n.do("GET", "/api/v1/chain/blocks/1", nil))
	if info.Height != 1 || len(info.TxHashes) != 1 || info.TxHashes[0] != transaction.Hash(raw).Hex() {
		t.Errorf("block = %+v", info)
	}
	if rec := n.do("GET", "/api/v1/chain/blocks/9", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing block status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	n := newTestNode(t, params.API{RateLimitRPS: 1, RateLimitBurst: 2})
	h := n.server.Handler()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = "10.0.0.2:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	// Other clients keep their own bucket.
	req := httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "10.0.0.3:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("second client status = %d", rec.Code)
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	rl.allow("a")
	now = now.Add(visitorTTL + time.Second)
	rl.allow("b")
	rl.Sweep()
	if _, ok := rl.visitors["a"]; ok {
		t.Error("idle visitor kept")
	}
	if _, ok := rl.visitors["b"]; !ok {
		t.Error("active visitor dropped")
	}
}

func TestWebSocketReceivesEvents(t *testing.T) {
	n := newTestNode(t, params.API{})
	go n.server.hub.Run()
	defer n.server.hub.Stop()

	srv := httptest.NewServer(n.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	user, _ := crypto.GenerateKey()
	channels := []string{ChannelBlocks, "account:" + user.Address().Hex()}
	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: channels}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ack WSAck
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Op != "subscribe" || ack.Client == "" {
		t.Fatalf("ack = %+v", ack)
	}

	if _, err := n.app.SubmitTx(createProxyTx(t, user, 1)); err != nil {
		t.Fatal(err)
	}
	n.commit(t)

	var types []string
	for len(types) < 2 {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (got %v)", err, types)
		}
		types = append(types, msg.Type+"@"+msg.Channel)
	}
	wantAccount := "proxy@" + AccountChannel(user.Address())
	if types[0] != wantAccount || types[1] != "block@"+ChannelBlocks {
		t.Errorf("messages = %v, want [%s block@blocks]", types, wantAccount)
	}
}
