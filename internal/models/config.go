package models

import "time"

// Config represents the application configuration
type Config struct {
	WSP        RedisConfig
	Replica    RedisConfig
	Database   DatabaseConfig
	Consumer   ConsumerConfig
	Reconciler ReconcilerConfig
	Accounting AccountingConfig
	Custodian  CustodianConfig
}

// RedisConfig holds connection settings for one Valkey/Redis instance.
// The WSP instance is authoritative; the replica is the stream-writeable
// instance the Exchange principal appends to.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// DatabaseConfig holds mirror database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// ConsumerConfig holds mirror consumer settings
type ConsumerConfig struct {
	Group              string
	Name               string
	BatchSize          int64
	BlockTimeout       time.Duration
	ReadRetries        int
	ReadRetryBackoff   time.Duration
	ReclaimIdle        time.Duration
	ReclaimInterval    time.Duration
	RequestExpiry      time.Duration
	ExpiryScanInterval time.Duration
	PolicyFile         string
}

// ReconcilerConfig holds settlement reconciler settings
type ReconcilerConfig struct {
	Interval time.Duration
}

// AccountingConfig holds settings for the optional downstream Formance
// accounting ledger. Disabled unless StackURL is set.
type AccountingConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// CustodianConfig holds settings for the optional Prime custodian wallet
// check performed before a pledge is earmarked.
type CustodianConfig struct {
	Enabled    bool
	WalletType string
}
