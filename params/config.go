package params

import (
	stdbig "math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/taskgrid/taskgrid/pkg/order"
)

// Chain configures the settlement ledger. With an empty RPCURL marketd runs
// against the in-process devnet ledger.
type Chain struct {
	RPCURL        string
	HubAddress    string
	ChainID       int64
	DomainName    string
	DomainVersion string
}

type Market struct {
	// Restricted enables the allow-list check on every matched party.
	Restricted bool
	// SignerKey is the hex private key used to sign ledger transactions.
	SignerKey string
}

type API struct {
	ListenAddr     string
	AllowedOrigins []string
	DataDir        string
}

type Config struct {
	Chain  Chain
	Market Market
	API    API
}

func Default() Config {
	return Config{
		Chain: Chain{
			ChainID:       65535,
			DomainName:    "TaskGrid Marketplace",
			DomainVersion: "1",
		},
		API: API{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			DataDir:        "data/orderbook",
		},
	}
}

// Domain derives the EIP-712 signing domain from the chain section.
func (c Config) Domain() order.Domain {
	return order.Domain{
		Name:              c.Chain.DomainName,
		Version:           c.Chain.DomainVersion,
		ChainID:           stdbig.NewInt(c.Chain.ChainID),
		VerifyingContract: common.HexToAddress(c.Chain.HubAddress),
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and the
// environment. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("TASKGRID_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("TASKGRID_HUB_ADDRESS"); v != "" {
		cfg.Chain.HubAddress = v
	}
	if v := os.Getenv("TASKGRID_CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Chain.ChainID = id
		}
	}
	if v := os.Getenv("TASKGRID_DOMAIN_NAME"); v != "" {
		cfg.Chain.DomainName = v
	}
	if v := os.Getenv("TASKGRID_DOMAIN_VERSION"); v != "" {
		cfg.Chain.DomainVersion = v
	}

	if v := os.Getenv("TASKGRID_RESTRICTED"); v != "" {
		cfg.Market.Restricted = v == "true"
	}
	if v := os.Getenv("TASKGRID_SIGNER_KEY"); v != "" {
		cfg.Market.SignerKey = v
	}

	if v := os.Getenv("TASKGRID_LISTEN_ADDR"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("TASKGRID_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("TASKGRID_DATA_DIR"); v != "" {
		cfg.API.DataDir = v
	}

	return cfg
}
