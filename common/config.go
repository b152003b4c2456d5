package common

import (
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	logger "github.com/kthomas/go-logger"
	redisutil "github.com/kthomas/go-redisutil"
)

var (
	// Log is the configured logger
	Log *logger.Logger

	// ConsumeNATSStreamingSubscriptions toggles the NATS consumers at boot
	ConsumeNATSStreamingSubscriptions bool

	// RedisEnabled is true when a redis endpoint has been configured for the summary cache
	RedisEnabled bool
)

func init() {
	godotenv.Load()

	requireLogger()

	ConsumeNATSStreamingSubscriptions = strings.ToLower(os.Getenv("CONSUME_NATS_STREAMING_SUBSCRIPTIONS")) == "true"
	RedisEnabled = os.Getenv("REDIS_HOSTS") != ""
}

func requireLogger() {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "INFO"
	}

	var endpoint *string
	if os.Getenv("SYSLOG_ENDPOINT") != "" {
		endpt := os.Getenv("SYSLOG_ENDPOINT")
		endpoint = &endpt
	}

	Log = logger.NewLogger("codestake", lvl, endpoint)
}

// RequireRedis panics unless a redis connection can be established for the summary cache
func RequireRedis() {
	if !RedisEnabled {
		Log.Debug("redis not configured; wallet summary cache disabled")
		return
	}

	redisutil.RequireRedis()
}

// RequireContractAddress reads the deployed staking contract address from the environment
func RequireContractAddress() string {
	addr := os.Getenv("CONTRACT_ADDRESS")
	PanicIfEmpty(addr, "CONTRACT_ADDRESS not set")
	return addr
}

// RequireChainID reads and parses the required chain id from the environment
func RequireChainID() *big.Int {
	raw := os.Getenv("CHAIN_ID")
	PanicIfEmpty(raw, "CHAIN_ID not set")

	id, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		Log.Panicf("failed to parse CHAIN_ID; invalid integer: %s", raw)
	}
	return id
}

// RequireRPCURL reads the ledger JSON-RPC endpoint from the environment
func RequireRPCURL() string {
	url := os.Getenv("RPC_URL")
	PanicIfEmpty(url, "RPC_URL not set")
	return url
}

// NetworkName returns the display name of the required network
func NetworkName() string {
	name := os.Getenv("NETWORK_NAME")
	if name == "" {
		name = "EduChain Testnet"
	}
	return name
}

// NativeCurrencySymbol returns the symbol of the required network's native currency
func NativeCurrencySymbol() string {
	symbol := os.Getenv("NATIVE_CURRENCY_SYMBOL")
	if symbol == "" {
		symbol = "EDU"
	}
	return symbol
}

// NativeCurrencyDecimals returns the decimal precision of the native currency
func NativeCurrencyDecimals() int {
	raw := os.Getenv("NATIVE_CURRENCY_DECIMALS")
	if raw == "" {
		return 18
	}

	decimals, err := strconv.Atoi(raw)
	if err != nil {
		Log.Panicf("failed to parse NATIVE_CURRENCY_DECIMALS; %s", err.Error())
	}
	return decimals
}

// ExplorerURL returns the block explorer endpoint for the required network, if any
func ExplorerURL() *string {
	return StringOrNil(os.Getenv("EXPLORER_URL"))
}
