package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/hyperswap/pkg/app/core/template"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

type Protocol struct {
	// ExchangeAddress is the registry address proxies are derived from.
	ExchangeAddress common.Address
	// FeeRecipient receives every settlement's fee. Fixed at start.
	FeeRecipient common.Address
	DigestScheme string // "packed" or "eip712"
	ChainID      int64  // EIP-712 domain chain id
	// TemplatePairing selects how runtime payloads pair with the two orders
	TemplatePairing      template.Pairing
	TemplateSentinelOnly bool
}

type Node struct {
	ID string
	// MinBlockTime throttles block production. Order expiry is counted in
	// blocks, so this sets how long a height lasts.
	//
	// Recommended values:
	//   - Devnet:  200ms
	//   - Testnet: 1s
	MinBlockTime    time.Duration
	SkipEmptyBlocks bool
	MaxBlockBytes   int64
	MempoolSize     int
	DataDir         string
	GenesisFile     string
	BLSSeed         string
	LogFile         string
	LogLevel        string
	// TxGenMode enables the devnet traffic feeder: "", "default" or "high"
	TxGenMode string
}

type API struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
}

type Config struct {
	Protocol Protocol
	Node     Node
	API      API
}

func Default() Config {
	return Config{
		Protocol: Protocol{
			ExchangeAddress:      common.HexToAddress("0x00000000000000000000000000000000000e0c4a"),
			FeeRecipient:         common.HexToAddress("0x0000000000000000000000000000000000007ea4"),
			DigestScheme:         crypto.SchemePacked,
			ChainID:              1337,
			TemplatePairing:      template.PairingPerOrder,
			TemplateSentinelOnly: true,
		},
		Node: Node{
			ID:            "sequencer",
			MinBlockTime:  200 * time.Millisecond, // Devnet default
			MaxBlockBytes: 1 << 22,
			MempoolSize:   10000,
			DataDir:       "./data",
			BLSSeed:       "hyperswap-devnet-sequencer-seed-000",
			LogLevel:      "info",
		},
		API: API{
			Addr:           ":8080",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			AllowedOrigins: []string{"*"},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var err error
	set := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	if v := os.Getenv("EXCHANGE_ADDRESS"); v != "" {
		cfg.Protocol.ExchangeAddress = parseAddress("EXCHANGE_ADDRESS", v, set)
	}
	if v := os.Getenv("FEE_RECIPIENT"); v != "" {
		cfg.Protocol.FeeRecipient = parseAddress("FEE_RECIPIENT", v, set)
	}
	cfg.Protocol.DigestScheme = getEnv("DIGEST_SCHEME", cfg.Protocol.DigestScheme)
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, e := strconv.ParseInt(v, 10, 64)
		set(wrap("CHAIN_ID", e))
		cfg.Protocol.ChainID = id
	}
	if v := os.Getenv("TEMPLATE_PAIRING"); v != "" {
		cfg.Protocol.TemplatePairing = template.Pairing(v)
	}
	if v := os.Getenv("TEMPLATE_SENTINEL_ONLY"); v != "" {
		cfg.Protocol.TemplateSentinelOnly = v == "true"
	}

	cfg.Node.ID = getEnv("NODE_ID", cfg.Node.ID)
	if v := os.Getenv("NODE_MIN_BLOCK_TIME_MS"); v != "" {
		ms, e := strconv.Atoi(v)
		set(wrap("NODE_MIN_BLOCK_TIME_MS", e))
		cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("NODE_SKIP_EMPTY_BLOCKS"); v != "" {
		cfg.Node.SkipEmptyBlocks = v == "true"
	}
	if v := os.Getenv("NODE_MAX_BLOCK_BYTES"); v != "" {
		n, e := strconv.ParseInt(v, 10, 64)
		set(wrap("NODE_MAX_BLOCK_BYTES", e))
		cfg.Node.MaxBlockBytes = n
	}
	if v := os.Getenv("MEMPOOL_SIZE"); v != "" {
		n, e := strconv.Atoi(v)
		set(wrap("MEMPOOL_SIZE", e))
		cfg.Node.MempoolSize = n
	}
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.GenesisFile = getEnv("GENESIS_FILE", cfg.Node.GenesisFile)
	cfg.Node.BLSSeed = getEnv("SEQUENCER_BLS_SEED", cfg.Node.BLSSeed)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.TxGenMode = getEnv("TXGEN_MODE", cfg.Node.TxGenMode)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := os.Getenv("API_RATE_LIMIT_RPS"); v != "" {
		rps, e := strconv.ParseFloat(v, 64)
		set(wrap("API_RATE_LIMIT_RPS", e))
		cfg.API.RateLimitRPS = rps
	}
	if v := os.Getenv("API_RATE_LIMIT_BURST"); v != "" {
		n, e := strconv.Atoi(v)
		set(wrap("API_RATE_LIMIT_BURST", e))
		cfg.API.RateLimitBurst = n
	}
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = strings.Split(v, ",")
	}

	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// MaxTxBytes caps a single transaction. A block must be able to hold the
// largest one, or it would sit at the head of the mempool forever.
const MaxTxBytes = 1 << 20

// Validate rejects configurations the node cannot start with
func (c Config) Validate() error {
	if c.Protocol.FeeRecipient == (common.Address{}) {
		return fmt.Errorf("FEE_RECIPIENT must be set")
	}
	if _, err := c.Scheme(); err != nil {
		return err
	}
	if _, err := template.NewMatcher(c.TemplateConfig()); err != nil {
		return err
	}
	if c.Node.MinBlockTime <= 0 {
		return fmt.Errorf("NODE_MIN_BLOCK_TIME_MS must be positive")
	}
	if c.Node.MaxBlockBytes < MaxTxBytes {
		return fmt.Errorf("NODE_MAX_BLOCK_BYTES must be at least %d, got %d", MaxTxBytes, c.Node.MaxBlockBytes)
	}
	if len(c.Node.BLSSeed) < 32 {
		return fmt.Errorf("SEQUENCER_BLS_SEED must be at least 32 bytes")
	}
	switch c.Node.TxGenMode {
	case "", "default", "high":
	default:
		return fmt.Errorf("TXGEN_MODE must be default or high, got %q", c.Node.TxGenMode)
	}
	return nil
}

// Scheme returns the configured order digest scheme
func (c Config) Scheme() (*crypto.DigestScheme, error) {
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(c.Protocol.ChainID)
	domain.VerifyingContract = c.Protocol.ExchangeAddress
	return crypto.SchemeByName(c.Protocol.DigestScheme, domain)
}

// TemplateConfig returns the matcher config with the configured pairing
func (c Config) TemplateConfig() template.Config {
	tc := template.DefaultConfig()
	tc.Pairing = c.Protocol.TemplatePairing
	tc.SentinelOnly = c.Protocol.TemplateSentinelOnly
	return tc
}

func parseAddress(key, v string, set func(error)) common.Address {
	if !common.IsHexAddress(v) {
		set(fmt.Errorf("%s: invalid address %q", key, v))
		return common.Address{}
	}
	return common.HexToAddress(v)
}

func wrap(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
