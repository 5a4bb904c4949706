package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const ENV_PREFIX = "UNICHAIN_INDEXER"

type Chain string

const (
	Chain_Unichain        Chain = "unichain"
	Chain_UnichainSepolia Chain = "unichain-sepolia"
	Chain_Mainnet         Chain = "mainnet"
)

var chainIds = map[Chain]uint64{
	Chain_Unichain:        130,
	Chain_UnichainSepolia: 1301,
	Chain_Mainnet:         1,
}

func ParseChain(c string) Chain {
	switch Chain(c) {
	case Chain_UnichainSepolia:
		return Chain_UnichainSepolia
	case Chain_Mainnet:
		return Chain_Mainnet
	default:
		return Chain_Unichain
	}
}

func (c Chain) ChainId() uint64 {
	return chainIds[c]
}

type HandlerFailurePolicy string

const (
	HandlerFailurePolicy_Skip HandlerFailurePolicy = "skip"
	HandlerFailurePolicy_Halt HandlerFailurePolicy = "halt"
)

type EffectsBackend string

const (
	EffectsBackend_None     EffectsBackend = "none"
	EffectsBackend_Postgres EffectsBackend = "postgres"
	EffectsBackend_Redis    EffectsBackend = "redis"
)

type Config struct {
	Debug             bool
	Chain             Chain
	DatabaseConfig    DatabaseConfig
	EthereumRpcConfig EthereumRpcConfig
	PipelineConfig    PipelineConfig
	EffectsConfig     EffectsConfig
	PoolConfig        PoolConfig
	FeedConfig        FeedConfig
	DataDogConfig     DataDogConfig
	PrometheusConfig  PrometheusConfig
	RabbitMQConfig    RabbitMQConfig
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DbName      string
	SchemaName  string
	SSLMode     string
	SSLCert     string
	SSLKey      string
	SSLRootCert string
}

type EthereumRpcConfig struct {
	BaseUrl string
}

type PipelineConfig struct {
	// Maximum number of events whose loader phase may be in flight at once
	LookaheadWindow int
	LoaderWorkers   int

	HandlerMaxRetries    int
	HandlerRetryDelay    time.Duration
	HandlerFailurePolicy HandlerFailurePolicy

	// Number of blocks of entity history kept per chain for reorg rollback. 0 keeps everything.
	MaxReorgDepth uint64
}

type EffectsConfig struct {
	Persist         bool
	Backend         EffectsBackend
	RedisUrl        string
	RedisDb         int
	ShutdownTimeout time.Duration
}

type PoolConfig struct {
	HookedPool   string
	StaticPool   string
	Token0       string
	Token1       string
	IndexAllPool bool
}

type FeedConfig struct {
	EventsFile   string
	ShowProgress bool
}

type DataDogConfig struct {
	StatsdConfig StatsdConfig
}

type StatsdConfig struct {
	Enabled    bool
	Url        string
	SampleRate float64
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

// RabbitMQConfig configures the optional publisher of commit and reorg notifications.
type RabbitMQConfig struct {
	Enabled  bool
	Url      string
	Username string
	Password string
	Secure   bool
	Exchange string
}

var (
	Debug  = "debug"
	Chain_ = "chain"

	DatabaseHost        = "database.host"
	DatabasePort        = "database.port"
	DatabaseUser        = "database.user"
	DatabasePassword    = "database.password"
	DatabaseDbName      = "database.db_name"
	DatabaseSchemaName  = "database.schema_name"
	DatabaseSSLMode     = "database.ssl_mode"
	DatabaseSSLCert     = "database.ssl_cert"
	DatabaseSSLKey      = "database.ssl_key"
	DatabaseSSLRootCert = "database.ssl_root_cert"

	EthereumRpcBaseUrl = "ethereum.rpc_url"

	PipelineLookaheadWindow      = "pipeline.lookahead_window"
	PipelineLoaderWorkers        = "pipeline.loader_workers"
	PipelineHandlerMaxRetries    = "pipeline.handler_max_retries"
	PipelineHandlerRetryDelay    = "pipeline.handler_retry_delay"
	PipelineHandlerFailurePolicy = "pipeline.handler_failure_policy"
	PipelineMaxReorgDepth        = "pipeline.max_reorg_depth"

	EffectsPersist         = "effects.persist"
	EffectsBackend_        = "effects.backend"
	EffectsRedisUrl        = "effects.redis_url"
	EffectsRedisDb         = "effects.redis_db"
	EffectsShutdownTimeout = "effects.shutdown_timeout"

	PoolHookedPool   = "pool.hooked_pool"
	PoolStaticPool   = "pool.static_pool"
	PoolToken0       = "pool.token0"
	PoolToken1       = "pool.token1"
	PoolIndexAllPool = "pool.index_all_pools"

	FeedEventsFile   = "feed.events_file"
	FeedShowProgress = "feed.show_progress"

	DataDogStatsdEnabled    = "datadog.statsd.enabled"
	DataDogStatsdUrl        = "datadog.statsd.url"
	DataDogStatsdSampleRate = "datadog.statsd.sample_rate"

	PrometheusEnabled = "prometheus.enabled"
	PrometheusPort    = "prometheus.port"

	RabbitMQEnabled  = "rabbitmq.enabled"
	RabbitMQUrl      = "rabbitmq.url"
	RabbitMQUsername = "rabbitmq.username"
	RabbitMQPassword = "rabbitmq.password"
	RabbitMQSecure   = "rabbitmq.secure"
	RabbitMQExchange = "rabbitmq.exchange"
)

// Token pair of the WBTC/ETH pools this indexer tracks by default.
const (
	WBTCAddress = "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"
	WETHAddress = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
)

func NewConfig() *Config {
	return &Config{
		Debug: viper.GetBool(normalizeFlagName(Debug)),
		Chain: ParseChain(viper.GetString(normalizeFlagName(Chain_))),

		DatabaseConfig: DatabaseConfig{
			Host:        viper.GetString(normalizeFlagName(DatabaseHost)),
			Port:        viper.GetInt(normalizeFlagName(DatabasePort)),
			User:        viper.GetString(normalizeFlagName(DatabaseUser)),
			Password:    viper.GetString(normalizeFlagName(DatabasePassword)),
			DbName:      viper.GetString(normalizeFlagName(DatabaseDbName)),
			SchemaName:  viper.GetString(normalizeFlagName(DatabaseSchemaName)),
			SSLMode:     viper.GetString(normalizeFlagName(DatabaseSSLMode)),
			SSLCert:     viper.GetString(normalizeFlagName(DatabaseSSLCert)),
			SSLKey:      viper.GetString(normalizeFlagName(DatabaseSSLKey)),
			SSLRootCert: viper.GetString(normalizeFlagName(DatabaseSSLRootCert)),
		},

		EthereumRpcConfig: EthereumRpcConfig{
			BaseUrl: viper.GetString(normalizeFlagName(EthereumRpcBaseUrl)),
		},

		PipelineConfig: PipelineConfig{
			LookaheadWindow:      viper.GetInt(normalizeFlagName(PipelineLookaheadWindow)),
			LoaderWorkers:        viper.GetInt(normalizeFlagName(PipelineLoaderWorkers)),
			HandlerMaxRetries:    viper.GetInt(normalizeFlagName(PipelineHandlerMaxRetries)),
			HandlerRetryDelay:    viper.GetDuration(normalizeFlagName(PipelineHandlerRetryDelay)),
			HandlerFailurePolicy: parseHandlerFailurePolicy(viper.GetString(normalizeFlagName(PipelineHandlerFailurePolicy))),
			MaxReorgDepth:        viper.GetUint64(normalizeFlagName(PipelineMaxReorgDepth)),
		},

		EffectsConfig: EffectsConfig{
			Persist:         viper.GetBool(normalizeFlagName(EffectsPersist)),
			Backend:         parseEffectsBackend(viper.GetString(normalizeFlagName(EffectsBackend_))),
			RedisUrl:        viper.GetString(normalizeFlagName(EffectsRedisUrl)),
			RedisDb:         viper.GetInt(normalizeFlagName(EffectsRedisDb)),
			ShutdownTimeout: viper.GetDuration(normalizeFlagName(EffectsShutdownTimeout)),
		},

		PoolConfig: PoolConfig{
			HookedPool:   viper.GetString(normalizeFlagName(PoolHookedPool)),
			StaticPool:   viper.GetString(normalizeFlagName(PoolStaticPool)),
			Token0:       viper.GetString(normalizeFlagName(PoolToken0)),
			Token1:       viper.GetString(normalizeFlagName(PoolToken1)),
			IndexAllPool: viper.GetBool(normalizeFlagName(PoolIndexAllPool)),
		},

		FeedConfig: FeedConfig{
			EventsFile:   viper.GetString(normalizeFlagName(FeedEventsFile)),
			ShowProgress: viper.GetBool(normalizeFlagName(FeedShowProgress)),
		},

		DataDogConfig: DataDogConfig{
			StatsdConfig: StatsdConfig{
				Enabled:    viper.GetBool(normalizeFlagName(DataDogStatsdEnabled)),
				Url:        viper.GetString(normalizeFlagName(DataDogStatsdUrl)),
				SampleRate: viper.GetFloat64(normalizeFlagName(DataDogStatsdSampleRate)),
			},
		},

		PrometheusConfig: PrometheusConfig{
			Enabled: viper.GetBool(normalizeFlagName(PrometheusEnabled)),
			Port:    viper.GetInt(normalizeFlagName(PrometheusPort)),
		},

		RabbitMQConfig: RabbitMQConfig{
			Enabled:  viper.GetBool(normalizeFlagName(RabbitMQEnabled)),
			Url:      viper.GetString(normalizeFlagName(RabbitMQUrl)),
			Username: viper.GetString(normalizeFlagName(RabbitMQUsername)),
			Password: viper.GetString(normalizeFlagName(RabbitMQPassword)),
			Secure:   viper.GetBool(normalizeFlagName(RabbitMQSecure)),
			Exchange: viper.GetString(normalizeFlagName(RabbitMQExchange)),
		},
	}
}

// Validate fills in defaults for zero values and rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.PipelineConfig.LookaheadWindow <= 0 {
		c.PipelineConfig.LookaheadWindow = 64
	}
	if c.PipelineConfig.LoaderWorkers <= 0 {
		c.PipelineConfig.LoaderWorkers = 8
	}
	if c.PipelineConfig.LoaderWorkers > c.PipelineConfig.LookaheadWindow {
		c.PipelineConfig.LoaderWorkers = c.PipelineConfig.LookaheadWindow
	}
	if c.PipelineConfig.HandlerFailurePolicy == "" {
		c.PipelineConfig.HandlerFailurePolicy = HandlerFailurePolicy_Skip
	}
	if c.PipelineConfig.HandlerMaxRetries < 0 {
		return fmt.Errorf("%s must be >= 0", PipelineHandlerMaxRetries)
	}
	if c.EffectsConfig.ShutdownTimeout <= 0 {
		c.EffectsConfig.ShutdownTimeout = 30 * time.Second
	}
	if c.EffectsConfig.Persist && c.EffectsConfig.Backend == EffectsBackend_Redis && c.EffectsConfig.RedisUrl == "" {
		return errors.New("effects.redis_url is required when effects.backend is redis")
	}
	if c.RabbitMQConfig.Enabled && c.RabbitMQConfig.Url == "" {
		return errors.New("rabbitmq.url is required when rabbitmq.enabled is true")
	}
	if c.PoolConfig.HookedPool == "" && c.PoolConfig.StaticPool == "" {
		c.PoolConfig.IndexAllPool = true
	}
	if c.PoolConfig.Token0 == "" {
		c.PoolConfig.Token0 = WBTCAddress
	}
	if c.PoolConfig.Token1 == "" {
		c.PoolConfig.Token1 = WETHAddress
	}
	return nil
}

// GetTargetPools returns the lowercased pool ids swaps are filtered on. Empty when all pools are indexed.
func (c *Config) GetTargetPools() []string {
	pools := make([]string, 0, 2)
	if c.PoolConfig.IndexAllPool {
		return pools
	}
	for _, p := range []string{c.PoolConfig.HookedPool, c.PoolConfig.StaticPool} {
		if p != "" {
			pools = append(pools, strings.ToLower(p))
		}
	}
	return pools
}

func parseHandlerFailurePolicy(p string) HandlerFailurePolicy {
	switch HandlerFailurePolicy(strings.ToLower(p)) {
	case HandlerFailurePolicy_Halt:
		return HandlerFailurePolicy_Halt
	default:
		return HandlerFailurePolicy_Skip
	}
}

func parseEffectsBackend(b string) EffectsBackend {
	switch EffectsBackend(strings.ToLower(b)) {
	case EffectsBackend_Postgres:
		return EffectsBackend_Postgres
	case EffectsBackend_Redis:
		return EffectsBackend_Redis
	default:
		return EffectsBackend_None
	}
}

func normalizeFlagName(name string) string {
	return KebabToSnakeCase(name)
}

func KebabToSnakeCase(str string) string {
	return strings.ReplaceAll(str, "-", "_")
}
