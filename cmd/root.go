package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Layr-Labs/unichain-indexer/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "unichain-indexer",
	Short: "Indexes Uniswap V4 swaps on UniChain into a reorg-safe entity store",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(config.Debug, false, `"true" or "false"`)
	rootCmd.PersistentFlags().StringP(config.Chain_, "c", string(config.Chain_Unichain), "The chain to use (unichain, unichain-sepolia, mainnet)")

	rootCmd.PersistentFlags().String(config.EthereumRpcBaseUrl, "", `e.g. "http://<hostname>:8545"`)

	rootCmd.PersistentFlags().String(config.DatabaseHost, "localhost", `PostgreSQL host`)
	rootCmd.PersistentFlags().Int(config.DatabasePort, 5432, `PostgreSQL port`)
	rootCmd.PersistentFlags().String(config.DatabaseUser, "indexer", `PostgreSQL username`)
	rootCmd.PersistentFlags().String(config.DatabasePassword, "", `PostgreSQL password`)
	rootCmd.PersistentFlags().String(config.DatabaseDbName, "unichain_indexer", `PostgreSQL database name`)
	rootCmd.PersistentFlags().String(config.DatabaseSchemaName, "", `PostgreSQL schema name (default "public")`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLMode, "disable", `PostgreSQL sslmode`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLCert, "", `Path to the client certificate`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLKey, "", `Path to the client key`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLRootCert, "", `Path to the root certificate`)

	rootCmd.PersistentFlags().Int(config.PipelineLookaheadWindow, 64, `Maximum number of events loaded ahead of the commit point`)
	rootCmd.PersistentFlags().Int(config.PipelineLoaderWorkers, 8, `Number of loader phases run concurrently`)
	rootCmd.PersistentFlags().Int(config.PipelineHandlerMaxRetries, 3, `Retries for an event whose handler or effect failed`)
	rootCmd.PersistentFlags().Duration(config.PipelineHandlerRetryDelay, 500*time.Millisecond, `Initial delay between retries, doubled after every attempt`)
	rootCmd.PersistentFlags().String(config.PipelineHandlerFailurePolicy, string(config.HandlerFailurePolicy_Skip), `What to do with an event that keeps failing: "skip" or "halt"`)
	rootCmd.PersistentFlags().Uint64(config.PipelineMaxReorgDepth, 0, `Blocks of entity history kept for reorg rollback. 0 keeps everything`)

	rootCmd.PersistentFlags().Bool(config.EffectsPersist, true, `Persist resolved effect results across restarts`)
	rootCmd.PersistentFlags().String(config.EffectsBackend_, string(config.EffectsBackend_Postgres), `Where effect results are persisted: "postgres", "redis" or "none"`)
	rootCmd.PersistentFlags().String(config.EffectsRedisUrl, "", `e.g. "redis://localhost:6379"`)
	rootCmd.PersistentFlags().Int(config.EffectsRedisDb, 0, `Redis database number`)
	rootCmd.PersistentFlags().Duration(config.EffectsShutdownTimeout, 30*time.Second, `How long to wait for in-flight effects on shutdown`)

	rootCmd.PersistentFlags().String(config.PoolHookedPool, "", `Pool id of the hooked WBTC/ETH pool`)
	rootCmd.PersistentFlags().String(config.PoolStaticPool, "", `Pool id of the static fee WBTC/ETH pool`)
	rootCmd.PersistentFlags().String(config.PoolToken0, config.WBTCAddress, `Default currency0 for pools seen before their Initialize event`)
	rootCmd.PersistentFlags().String(config.PoolToken1, config.WETHAddress, `Default currency1 for pools seen before their Initialize event`)
	rootCmd.PersistentFlags().Bool(config.PoolIndexAllPool, false, `Index swaps of every pool`)

	rootCmd.PersistentFlags().String(config.FeedEventsFile, "", `Path to a JSON lines file of feed items ("-" reads stdin)`)
	rootCmd.PersistentFlags().Bool(config.FeedShowProgress, false, `Show a progress bar while reading the events file`)

	rootCmd.PersistentFlags().Bool(config.DataDogStatsdEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().String(config.DataDogStatsdUrl, "", `e.g. "localhost:8125"`)
	rootCmd.PersistentFlags().Float64(config.DataDogStatsdSampleRate, 1.0, `The sample rate to use for statsd metrics`)

	rootCmd.PersistentFlags().Bool(config.PrometheusEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().Int(config.PrometheusPort, 2112, `The port to run the prometheus server on`)

	rootCmd.PersistentFlags().Bool(config.RabbitMQEnabled, false, `Publish commit and reorg notifications to RabbitMQ`)
	rootCmd.PersistentFlags().String(config.RabbitMQUrl, "", `e.g. "localhost:5672"`)
	rootCmd.PersistentFlags().String(config.RabbitMQUsername, "guest", `RabbitMQ username`)
	rootCmd.PersistentFlags().String(config.RabbitMQPassword, "guest", `RabbitMQ password`)
	rootCmd.PersistentFlags().Bool(config.RabbitMQSecure, false, `Connect with amqps`)
	rootCmd.PersistentFlags().String(config.RabbitMQExchange, "unichain-indexer.events", `Topic exchange notifications are published to`)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runDatabaseCmd)
	rootCmd.AddCommand(runVersionCmd)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(config.ENV_PREFIX)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.AutomaticEnv()
}

func initCommandFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(f.Name); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}
