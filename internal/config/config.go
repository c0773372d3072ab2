// Package config loads the options of both binaries. Sources are merged
// in increasing precedence: defaults, an optional JSON config file,
// GIFHUB_* environment variables, command-line flags.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. GIFHUB_RPC_URL.
const EnvPrefix = "GIFHUB"

// Clusters maps well-known cluster names to their RPC endpoints.
var Clusters = map[string]string{
	"devnet":       rpc.DevNet_RPC,
	"testnet":      rpc.TestNet_RPC,
	"mainnet-beta": rpc.MainNetBeta_RPC,
	"localnet":     rpc.LocalNet_RPC,
}

// Client holds the options of the UI client.
type Client struct {
	// Addr is the address the UI listens on (ip:port).
	Addr string `mapstructure:"addr"`
	// Cluster selects an RPC endpoint when RPCURL is empty.
	Cluster string `mapstructure:"cluster"`
	RPCURL  string `mapstructure:"rpc_url"`
	// Commitment is used for reads, preflight and confirmation.
	Commitment string `mapstructure:"commitment"`
	ProgramID  string `mapstructure:"program_id"`
	// StoreKeypair is the keypair file of the record-holding account.
	StoreKeypair string `mapstructure:"store_keypair"`
	// WalletKeypair is the keypair file the wallet signs with.
	WalletKeypair string `mapstructure:"wallet_keypair"`
	// TrustFile remembers which origins the wallet connects silently.
	TrustFile      string        `mapstructure:"trust_file"`
	AutoApprove    bool          `mapstructure:"auto_approve"`
	StrictSession  bool          `mapstructure:"strict_session"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	LogLevel       string        `mapstructure:"log_level"`
	// Config is the path to the config file.
	Config string `mapstructure:"config"`
}

// Ledger holds the options of the local ledger emulator.
type Ledger struct {
	Addr string `mapstructure:"addr"`
	// DatabaseDSN selects PostgreSQL storage; empty keeps state in memory.
	DatabaseDSN string `mapstructure:"database_dsn"`
	ProgramID   string `mapstructure:"program_id"`
	// Retention is how long signature statuses are kept.
	Retention     time.Duration `mapstructure:"retention"`
	CleanInterval time.Duration `mapstructure:"clean_interval"`
	LogLevel      string        `mapstructure:"log_level"`
	Config        string        `mapstructure:"config"`
}

// ClientFlags registers the client flags on fs.
func ClientFlags(fs *pflag.FlagSet) {
	fs.StringP("addr", "a", "localhost:3000", "UI listen address (ip:port)")
	fs.String("cluster", "devnet", "cluster name: devnet, testnet, mainnet-beta, localnet")
	fs.String("rpc-url", "", "RPC endpoint; overrides --cluster")
	fs.String("commitment", string(rpc.CommitmentProcessed), "commitment: processed, confirmed, finalized")
	fs.String("program-id", "", "GIF program address")
	fs.String("store-keypair", "keypair.json", "keypair file of the record-holding account")
	fs.String("wallet-keypair", defaultWalletKeypair(), "keypair file of the wallet")
	fs.String("trust-file", "", "file recording origins trusted by the wallet")
	fs.Bool("auto-approve", false, "approve wallet requests without prompting")
	fs.Bool("strict-session", false, "discard results that arrive after the identity changed")
	fs.Duration("confirm-timeout", 60*time.Second, "how long to wait for a transaction to be confirmed")
	fs.String("log-level", "info", "log level")
	fs.StringP("config", "c", "", "path to JSON config file")
}

// LedgerFlags registers the ledger emulator flags on fs.
func LedgerFlags(fs *pflag.FlagSet) {
	fs.StringP("addr", "a", "localhost:8899", "RPC listen address (ip:port)")
	fs.StringP("database-dsn", "d", "", "PostgreSQL connection string; empty keeps state in memory")
	fs.String("program-id", "", "GIF program address")
	fs.Duration("retention", 24*time.Hour, "how long signature statuses are kept")
	fs.Duration("clean-interval", time.Hour, "how often old signature statuses are pruned")
	fs.String("log-level", "info", "log level")
	fs.StringP("config", "c", "", "path to JSON config file")
}

// LoadClient merges all sources for the client and validates the result.
func LoadClient(fs *pflag.FlagSet) (*Client, error) {
	v, err := load(fs)
	if err != nil {
		return nil, err
	}
	var opts Client
	if err := v.Unmarshal(&opts); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if opts.RPCURL == "" {
		url, ok := Clusters[opts.Cluster]
		if !ok {
			return nil, errors.Newf("unknown cluster %q", opts.Cluster)
		}
		opts.RPCURL = url
	}
	if !validCommitment(opts.Commitment) {
		return nil, errors.Newf("invalid commitment %q", opts.Commitment)
	}
	if opts.ProgramID == "" {
		return nil, errors.New("program id is required")
	}
	return &opts, nil
}

// LoadLedger merges all sources for the ledger emulator.
func LoadLedger(fs *pflag.FlagSet) (*Ledger, error) {
	v, err := load(fs)
	if err != nil {
		return nil, err
	}
	var opts Ledger
	if err := v.Unmarshal(&opts); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if opts.ProgramID == "" {
		return nil, errors.New("program id is required")
	}
	if opts.CleanInterval <= 0 || opts.Retention <= 0 {
		return nil, errors.New("retention and clean interval must be positive")
	}
	return &opts, nil
}

// load builds a viper instance over fs. Flag names use dashes; keys use
// underscores so that env variables and JSON keys line up.
func load(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		v.SetDefault(key, f.DefValue)
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = errors.Wrapf(err, "bind flag %s", f.Name)
		}
		if err := v.BindEnv(key); err != nil && bindErr == nil {
			bindErr = errors.Wrapf(err, "bind env %s", key)
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}
	return v, nil
}

func defaultWalletKeypair() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "id.json"
	}
	return home + "/.config/solana/id.json"
}

// validCommitment accepts the commitment levels a transaction can be
// confirmed at.
func validCommitment(c string) bool {
	switch rpc.CommitmentType(c) {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return true
	}
	return false
}
