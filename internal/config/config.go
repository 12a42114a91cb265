// Package config centralizes the engine's environment-variable knobs,
// following the teacher engine's requireEnv/getEnvOrDefault idiom but
// collecting the results into a single typed struct instead of reading
// os.Getenv ad hoc throughout the codebase.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mixdao/mixd/internal/coins"
)

// Config holds every environment-tunable knob from spec.md §6.3.
type Config struct {
	// Node RPC
	BTCRPCHost string
	BTCRPCUser string
	BTCRPCPass string

	// HTTP
	Port           string
	AllowedOrigins string
	APIAuthToken   string

	// Database (ledger mirror, optional)
	DatabaseURL string

	// Fee model
	FeeBaseP        float64
	FeeShardP       float64
	FeeHopP         float64
	FeeMinP         float64
	FeeMaxP         float64
	AbsFeeFloor     coins.Amount
	MinerFeeCap     coins.Amount
	MinRelayFeeFloor coins.Amount
	FixedFee        coins.Amount
	TxFeePerTx      coins.Amount

	// Topology tiers
	TierStandardShards int
	TierStandardHops   int
	TierEnhancedShards int
	TierEnhancedHops   int
	TierStrongShards   int
	TierStrongHops     int

	// Address pool
	AddressPoolBatch int

	// Job engine
	DepositExtra        coins.Amount
	MinConf             int64
	MinConfStep2        int64
	MinConfShard        int64
	RequiredConf        int64
	ConfPollInterval    time.Duration
	DustCoinsFloor      coins.Amount
	RecoveryScanTxs     int

	// Deduction / service fee splice
	DeductionEnabled bool
	DeductionMode    string // "deduct" | "add"
	DeductionPercent float64
	DeductionAddress string
	PrimaryAddress   string
	FeeAddress       string

	// Transaction policy gate
	TxVersionMode      string // strict | postfork | allow
	TxAllowedVersions  []uint32
	TxRequireFinality  bool

	// Wallet unlock
	WalletPassphrase        string
	WalletPassphraseTimeout int64
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("FATAL: required environment variable %s is not set", key)
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("config: invalid float for %s=%q, using default %v", key, v, fallback)
	}
	return fallback
}

func envInt(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Printf("config: invalid int for %s=%q, using default %v", key, v, fallback)
	}
	return fallback
}

func envAmount(key string, fallback coins.Amount) coins.Amount {
	if v := os.Getenv(key); v != "" {
		if a, err := coins.ParseDecimal(v); err == nil {
			return a
		}
		log.Printf("config: invalid amount for %s=%q, using default %s", key, v, fallback)
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envUint32List(key string) []uint32 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			log.Printf("config: invalid version in %s: %q", key, p)
			continue
		}
		out = append(out, uint32(n))
	}
	return out
}

// Load reads all configuration from the environment. BTC_RPC_USER and
// BTC_RPC_PASS are required (credentials never get a fallback default)
// the same way the teacher's main.go requires DATABASE_URL.
func Load() *Config {
	return &Config{
		BTCRPCHost: getEnvOrDefault("BTC_RPC_HOST", "localhost:8332"),
		BTCRPCUser: requireEnv("BTC_RPC_USER"),
		BTCRPCPass: requireEnv("BTC_RPC_PASS"),

		Port:           getEnvOrDefault("PORT", "5339"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		APIAuthToken:   os.Getenv("API_AUTH_TOKEN"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		FeeBaseP:         envFloat("FEE_BASE_P", 0.0020),
		FeeShardP:        envFloat("FEE_SHARD_P", 0.0006),
		FeeHopP:          envFloat("FEE_HOP_P", 0.0003),
		FeeMinP:          envFloat("FEE_MIN_P", 0.0025),
		FeeMaxP:          envFloat("FEE_MAX_P", 0.05),
		AbsFeeFloor:      envAmount("ABS_FEE_FLOOR", coins.FromCoins(0.0002)),
		MinerFeeCap:      envAmount("MINER_FEE_CAP", coins.FromCoins(0.09)),
		MinRelayFeeFloor: envAmount("MIN_RELAY_FEE_FLOOR", coins.FromCoins(0.00001)),
		FixedFee:         envAmount("FIXED_FEE", coins.FromCoins(0.01)),
		TxFeePerTx:       envAmount("TX_FEE_PER_TX", coins.FromCoins(0.01)),

		TierStandardShards: int(envInt("TIER_STANDARD_SHARDS", 3)),
		TierStandardHops:   int(envInt("TIER_STANDARD_HOPS", 1)),
		TierEnhancedShards: int(envInt("TIER_ENHANCED_SHARDS", 5)),
		TierEnhancedHops:   int(envInt("TIER_ENHANCED_HOPS", 2)),
		TierStrongShards:   int(envInt("TIER_STRONG_SHARDS", 8)),
		TierStrongHops:     int(envInt("TIER_STRONG_HOPS", 3)),

		AddressPoolBatch: int(envInt("ADDRESS_POOL_BATCH", 10)),

		DepositExtra:     envAmount("DEPOSIT_EXTRA", 0),
		MinConf:          envInt("MINCONF", 1),
		MinConfStep2:     envInt("MINCONF_STEP2", 6),
		MinConfShard:     envInt("MINCONF_SHARD", 0),
		RequiredConf:     envInt("REQUIRED_CONF", 6),
		ConfPollInterval: time.Duration(envInt("CONF_POLL_INTERVAL_SEC", 15)) * time.Second,
		DustCoinsFloor:   envAmount("DUST_COINS_FLOOR", coins.FromCoins(0.000055)),
		RecoveryScanTxs:  int(envInt("RECOVERY_SCAN_TXS", 1000)),

		DeductionEnabled: envBool("ABCMINT_DEDUCTION_ENABLED", false),
		DeductionMode:    getEnvOrDefault("ABCMINT_DEDUCTION_MODE", "deduct"),
		DeductionPercent: envFloat("ABCMINT_DEDUCTION_PERCENT", 0),
		DeductionAddress: os.Getenv("ABCMINT_DEDUCTION_ADDRESS"),
		PrimaryAddress:   os.Getenv("ABCMINT_PRIMARY_ADDRESS"),
		FeeAddress:       os.Getenv("ABCMINT_FEE_ADDRESS"),

		TxVersionMode:     getEnvOrDefault("ABCMINT_TX_VERSION_MODE", "strict"),
		TxAllowedVersions: envUint32List("ABCMINT_TX_ALLOWED_VERSIONS"),
		TxRequireFinality: envBool("ABCMINT_TX_REQUIRE_FINALITY", true),

		WalletPassphrase:        os.Getenv("ABCMINT_WALLET_PASSPHRASE"),
		WalletPassphraseTimeout: envInt("ABCMINT_WALLET_PASSPHRASE_TIMEOUT", 60),
	}
}
