package api

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// SubmitTxResponse is returned by POST /api/v1/txs
type SubmitTxResponse struct {
	Status string `json:"status"` // "accepted"
	TxHash string `json:"txHash"`
}

// ProxyInfo describes a user's escrow proxy
type ProxyInfo struct {
	Owner         string `json:"owner"`
	Exists        bool   `json:"exists"`
	Proxy         string `json:"proxy,omitempty"`
	CreatedHeight uint64 `json:"createdHeight,omitempty"`
	AccountNonce  uint64 `json:"accountNonce"` // last nonce used by create_proxy / call
}

// OrderStatus reports whether an order digest can still settle
type OrderStatus struct {
	Digest string `json:"digest"`
	Closed bool   `json:"closed"`
	Scheme string `json:"scheme"`
}

// BalanceInfo is a payment token balance
type BalanceInfo struct {
	Asset    string `json:"asset"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Owner    string `json:"owner"`
	Balance  string `json:"balance"`  // base units
	Amount   string `json:"amount"`   // balance scaled by decimals, e.g. "12.5"
	Proxy    string `json:"proxy"`    // owner's proxy address (derived)
	Approved string `json:"approved"` // allowance granted to that proxy, base units
}

// OwnerInfo is the current owner of one collectible
type OwnerInfo struct {
	Asset   string `json:"asset"`
	TokenID string `json:"tokenId"`
	Owner   string `json:"owner"`
}

// ChainStatus represents sequencer and ledger status
type ChainStatus struct {
	Height        uint64 `json:"height"`        // Last applied block height
	AppHash       string `json:"appHash"`       // State hash after that block
	LastBlockTime int64  `json:"lastBlockTime"` // Unix milliseconds
	MempoolSize   int    `json:"mempoolSize"`   // Pending transactions
	FeeRecipient  string `json:"feeRecipient"`
	DigestScheme  string `json:"digestScheme"`
}

// BlockInfo is a committed block with its transaction hashes
type BlockInfo struct {
	Height    uint64   `json:"height"`
	Hash      string   `json:"hash"`
	Parent    string   `json:"parent"`
	AppHash   string   `json:"appHash"`
	Proposer  string   `json:"proposer"`
	Timestamp int64    `json:"timestamp"` // Unix milliseconds
	TxHashes  []string `json:"txHashes"`
	Signature string   `json:"signature,omitempty"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the envelope for every pushed message
type WSMessage struct {
	Channel string      `json:"channel"`
	Type    string      `json:"type"` // "settlement", "cancel", "proxy", "call", "failed", "block"
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["settlements", "blocks", "account:0x..."]
}

// WSAck confirms a subscription change
type WSAck struct {
	Op       string   `json:"op"`
	Client   string   `json:"client"`
	Channels []string `json:"channels"`
}
