// Package searchconfig loads the search core's configuration surface with
// viper: defaults set first, then an optional config file, then
// SEARCH_-prefixed environment variables, in that precedence order.
package searchconfig

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rbatllet/private-blockchain-search/pkg/encsearch"
	"github.com/rbatllet/private-blockchain-search/pkg/offchain"
	"github.com/rbatllet/private-blockchain-search/pkg/router"
)

// Config is the complete configuration surface.
type Config struct {
	SecurityLevel string `mapstructure:"security_level"`

	IndexingPoolSize   int `mapstructure:"indexing_pool_size"`
	DecryptionPoolSize int `mapstructure:"decryption_pool_size"`

	CacheTTLMs                 int `mapstructure:"cache_ttl_ms"`
	EncryptedPageCacheTTLMs    int `mapstructure:"encrypted_page_cache_ttl_ms"`
	EncryptedPageCacheSize     int `mapstructure:"encrypted_page_cache_size"`
	MaxEncryptedBlocksPerQuery int `mapstructure:"max_encrypted_blocks_per_query"`
	ParallelDecryptBatchSize   int `mapstructure:"parallel_decrypt_batch_size"`

	OffChainCacheTTLMs int `mapstructure:"offchain_cache_ttl_ms"`

	// Merge-score bonuses for the exhaustive off-chain search path. Tuned
	// empirically; exposed as knobs rather than hard-coded.
	OnChainScoreBonus  float64 `mapstructure:"onchain_score_bonus"`
	OffChainScoreBonus float64 `mapstructure:"offchain_score_bonus"`
}

// Load builds a Config from defaults, an optional configFile (if non-empty
// and present), and SEARCH_-prefixed environment variables, in that
// precedence order.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				if !os.IsNotExist(err) {
					return nil, fmt.Errorf("read config file: %w", err)
				}
			}
		}
	}

	v.SetEnvPrefix("SEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal search config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("security_level", "PERFORMANCE")
	v.SetDefault("indexing_pool_size", 4)
	v.SetDefault("decryption_pool_size", defaultDecryptionPoolSize())
	v.SetDefault("cache_ttl_ms", 300_000)
	v.SetDefault("encrypted_page_cache_ttl_ms", 60_000)
	v.SetDefault("encrypted_page_cache_size", 500)
	v.SetDefault("max_encrypted_blocks_per_query", 500)
	v.SetDefault("parallel_decrypt_batch_size", 50)
	v.SetDefault("offchain_cache_ttl_ms", 300_000)
	v.SetDefault("onchain_score_bonus", 15.0)
	v.SetDefault("offchain_score_bonus", 20.0)
}

// SecurityLevelValue parses SecurityLevel into a router.SecurityLevel,
// defaulting to PERFORMANCE on an unrecognized value.
func (c *Config) SecurityLevelValue() router.SecurityLevel {
	switch strings.ToUpper(c.SecurityLevel) {
	case string(router.SecurityMaximum):
		return router.SecurityMaximum
	case string(router.SecurityBalanced):
		return router.SecurityBalanced
	default:
		return router.SecurityPerformance
	}
}

// EncSearchConfig derives the EncryptedContentSearch config from c.
func (c *Config) EncSearchConfig() encsearch.Config {
	return encsearch.Config{
		CacheTTL:                time.Duration(c.CacheTTLMs) * time.Millisecond,
		EncryptedPageCacheTTL:   time.Duration(c.EncryptedPageCacheTTLMs) * time.Millisecond,
		EncryptedPageCacheSize:  c.EncryptedPageCacheSize,
		MaxEncryptedBlocksQuery: c.MaxEncryptedBlocksPerQuery,
		ParallelDecryptBatch:    c.ParallelDecryptBatchSize,
		DecryptionPoolSize:      c.DecryptionPoolSize,
	}
}

// OffChainConfig derives the OffChainFileSearch config from c.
func (c *Config) OffChainConfig() offchain.Config {
	return offchain.Config{CacheTTL: time.Duration(c.OffChainCacheTTLMs) * time.Millisecond}
}

func defaultDecryptionPoolSize() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}
