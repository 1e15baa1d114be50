// Package api serves the node's REST and WebSocket interface: transaction
// submission, receipts, proxy and order status, asset queries and chain
// status, plus live pushes of committed events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/proxy"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/app/swap"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

const maxBodyBytes = params.MaxTxBytes

// Server handles REST API and WebSocket connections
type Server struct {
	app     *swap.App
	blocks  sequencer.BlockStore
	cfg     params.API
	router  *mux.Router
	hub     *Hub // WebSocket hub
	limiter *RateLimiter
	logger  *zap.Logger
}

// NewServer creates a new API server and subscribes its hub to app events
func NewServer(app *swap.App, blocks sequencer.BlockStore, cfg params.API, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		app:     app,
		blocks:  blocks,
		cfg:     cfg,
		router:  mux.NewRouter(),
		hub:     NewHub(logger.Named("ws")),
		limiter: NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		logger:  logger,
	}
	app.Subscribe(s.hub.Publish)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Transactions
	api.HandleFunc("/txs", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/txs/{hash}", s.handleGetReceipt).Methods("GET")

	// Proxies and orders
	api.HandleFunc("/proxies/{address}", s.handleGetProxy).Methods("GET")
	api.HandleFunc("/orders/digest", s.handleOrderDigest).Methods("POST")
	api.HandleFunc("/orders/{digest}", s.handleGetOrder).Methods("GET")

	// Assets
	api.HandleFunc("/assets/{asset}/balances/{address}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/assets/{asset}/owners/{id}", s.handleGetOwner).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/chain/blocks/{height}", s.handleGetBlock).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS, rate limiting and access logs
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return accessLog(s.logger, c.Handler(s.limiter.Middleware(s.router)))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run()
	defer s.hub.Stop()

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api_listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()
	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-sweep.C:
			s.limiter.Sweep()
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "failed to read body", "", err.Error())
		return
	}

	hash, err := s.app.SubmitTx(body)
	switch {
	case err == nil:
	case errors.Is(err, transaction.ErrMalformedTx):
		respondError(w, http.StatusBadRequest, "invalid transaction", transaction.Kind(err), err.Error())
		return
	case errors.Is(err, swap.ErrTxTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "", err.Error())
		return
	case errors.Is(err, mempool.ErrDuplicateTx):
		respondError(w, http.StatusConflict, "duplicate transaction", "", hash.Hex())
		return
	case errors.Is(err, mempool.ErrMempoolFull):
		respondError(w, http.StatusServiceUnavailable, "mempool full", "", err.Error())
		return
	default:
		respondError(w, http.StatusInternalServerError, "submit failed", "", err.Error())
		return
	}

	s.logger.Debug("tx_submitted", zap.String("tx", hash.Hex()), zap.Int("bytes", len(body)))
	respondJSONStatus(w, http.StatusAccepted, SubmitTxResponse{Status: "accepted", TxHash: hash.Hex()})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(mux.Vars(r)["hash"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tx hash", "", "")
		return
	}
	receipt, found, err := s.app.Receipt(hash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "receipt lookup failed", "", err.Error())
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "receipt not found", "", "transaction unknown or not yet included")
		return
	}
	respondJSON(w, receipt)
}

func (s *Server) handleGetProxy(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(mux.Vars(r)["address"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address", "", "")
		return
	}
	info := ProxyInfo{Owner: addr.Hex(), AccountNonce: s.app.AccountNonce(addr)}
	if p, exists := s.app.ProxyOf(addr); exists {
		info.Exists = true
		info.Proxy = p.Address.Hex()
		info.CreatedHeight = p.CreatedHeight
	}
	respondJSON(w, info)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	digest, ok := parseHash(mux.Vars(r)["digest"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid digest", "", "")
		return
	}
	respondJSON(w, OrderStatus{Digest: digest.Hex(), Closed: s.app.IsClosed(digest), Scheme: s.app.Scheme().Name})
}

// handleOrderDigest computes the digest a client must sign for an order
func (s *Server) handleOrderDigest(w http.ResponseWriter, r *http.Request) {
	var payload transaction.OrderPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", "", err.Error())
		return
	}
	o, err := payload.ToOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", transaction.Kind(err), err.Error())
		return
	}
	digest, err := s.app.Digest(o)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", transaction.Kind(err), err.Error())
		return
	}
	respondJSON(w, OrderStatus{Digest: digest.Hex(), Closed: s.app.IsClosed(digest), Scheme: s.app.Scheme().Name})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	assetAddr, ok1 := parseAddress(vars["asset"])
	owner, ok2 := parseAddress(vars["address"])
	if !ok1 || !ok2 {
		respondError(w, http.StatusBadRequest, "invalid address", "", "")
		return
	}
	tok, ok := s.app.Host().Token(assetAddr)
	if !ok {
		respondError(w, http.StatusNotFound, "token not found", "", assetAddr.Hex())
		return
	}

	bal := tok.BalanceOf(owner)
	proxyAddr := proxy.Address(s.app.ExchangeAddress(), owner)
	respondJSON(w, BalanceInfo{
		Asset:    assetAddr.Hex(),
		Symbol:   tok.Symbol,
		Decimals: tok.Decimals,
		Owner:    owner.Hex(),
		Balance:  bal.String(),
		Amount:   decimal.NewFromBigInt(bal, -int32(tok.Decimals)).String(),
		Proxy:    proxyAddr.Hex(),
		Approved: tok.Allowance(owner, proxyAddr).String(),
	})
}

func (s *Server) handleGetOwner(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	assetAddr, ok := parseAddress(vars["asset"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address", "", "")
		return
	}
	id, err := params.ParseTokenID(vars["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token id", "", err.Error())
		return
	}
	col, ok := s.app.Host().Collectible(assetAddr)
	if !ok {
		respondError(w, http.StatusNotFound, "collectible not found", "", assetAddr.Hex())
		return
	}
	owner, exists := col.OwnerOf(id)
	if !exists {
		respondError(w, http.StatusNotFound, "token not minted", "", id.String())
		return
	}
	respondJSON(w, OwnerInfo{Asset: assetAddr.Hex(), TokenID: id.String(), Owner: owner.Hex()})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	appHash := s.app.AppHash()
	status := ChainStatus{
		Height:       s.app.Height(),
		AppHash:      hexutil.Encode(appHash[:]),
		MempoolSize:  s.app.PendingTxs(),
		FeeRecipient: s.app.FeeRecipient().Hex(),
		DigestScheme: s.app.Scheme().Name,
	}
	if s.blocks != nil {
		if last, ok, err := s.blocks.LastBlock(); err == nil && ok {
			status.LastBlockTime = last.Time.UnixMilli()
		}
	}
	respondJSON(w, status)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	h, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid height", "", err.Error())
		return
	}
	if s.blocks == nil {
		respondError(w, http.StatusNotFound, "block not found", "", "")
		return
	}
	b, found, err := s.blocks.GetBlock(sequencer.Height(h))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "block lookup failed", "", err.Error())
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "block not found", "", strconv.FormatUint(h, 10))
		return
	}

	txs, err := abci.DecodePayload(b.Payload)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "corrupt block payload", "", err.Error())
		return
	}
	info := BlockInfo{
		Height:    uint64(b.Height),
		Hash:      hexutil.Encode(hashBytes(sequencer.HashOfBlock(b))),
		Parent:    hexutil.Encode(hashBytes(b.Parent)),
		AppHash:   hexutil.Encode(hashBytes(b.AppHash)),
		Proposer:  b.Proposer,
		Timestamp: b.Time.UnixMilli(),
		TxHashes:  make([]string, 0, len(txs)),
	}
	if len(b.Sig) > 0 {
		info.Signature = hexutil.Encode(b.Sig)
	}
	for _, tx := range txs {
		info.TxHashes = append(info.TxHashes, transaction.Hash(tx).Hex())
	}
	respondJSON(w, info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseHash(s string) (common.Hash, bool) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func hashBytes(h sequencer.Hash) []byte { return h[:] }

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Kind:    kind,
		Message: message,
	})
}
