/** Copyright 2020-2023 Alibaba Group Holding Limited.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config resolves the vineyardd daemon's configuration surface:
// flags, a config file and environment variables layered through viper,
// with afero standing in for the filesystem so tests never touch disk.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Deployment selects how sessions are scheduled across instances.
type Deployment string

const (
	DeploymentLocal       Deployment = "local"
	DeploymentDistributed Deployment = "distributed"
)

// MetaBackend selects the metadata-plane collaborator (§6.5).
type MetaBackend string

const (
	MetaBackendLocal MetaBackend = "local"
	MetaBackendEtcd  MetaBackend = "etcd"
	MetaBackendRedis MetaBackend = "redis"
)

// Allocator selects the arena's backing bump/slab allocator strategy.
type Allocator string

const (
	AllocatorDLMalloc  Allocator = "dlmalloc"
	AllocatorMiMalloc  Allocator = "mimalloc"
)

// Config is the fully-resolved daemon configuration. Fields mirror the
// vineyardd flag/env/file surface one for one; defaults are set in
// newViper before any source is layered in.
type Config struct {
	Deployment Deployment

	MetaBackend   MetaBackend
	MetaEndpoint  string
	MetaPrefix    string
	MetaCmd       string

	Size uint64

	Allocator Allocator

	StreamThreshold int

	SpillPath       string
	SpillLowerRate  float64
	SpillUpperRate  float64

	Socket string

	RPC           bool
	RPCSocketPort int

	SyncCRDs bool

	Prometheus bool
	Metrics    bool
}

// Load builds a Config from a config file (optional), environment
// variables prefixed VINEYARD_, and explicit overrides, in increasing
// order of precedence. fs lets tests and the disk-backed loader share
// the same code path.
func Load(fs afero.Fs, configFile string, overrides map[string]string) (*Config, error) {
	v := newViper(fs)

	if configFile != "" {
		data, err := afero.ReadFile(fs, configFile)
		if err != nil {
			return nil, errors.Wrapf(err, "config: read %s", configFile)
		}
		v.SetConfigType(configFileType(configFile))
		if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
			return nil, errors.Wrap(err, "config: parse config file")
		}
	}

	for key, val := range overrides {
		v.Set(key, val)
	}

	return resolve(v)
}

func newViper(fs afero.Fs) *viper.Viper {
	v := viper.New()
	v.SetFs(fs)
	v.SetEnvPrefix("VINEYARD")
	v.AutomaticEnv()

	v.SetDefault("deployment", string(DeploymentLocal))
	v.SetDefault("meta", string(MetaBackendLocal))
	v.SetDefault("meta_prefix", "/vineyard")
	v.SetDefault("size", "256Mi")
	v.SetDefault("allocator", string(AllocatorDLMalloc))
	v.SetDefault("stream_threshold", 80)
	v.SetDefault("spill_lower_rate", 0.3)
	v.SetDefault("spill_upper_rate", 0.8)
	v.SetDefault("socket", "/var/run/vineyard.sock")
	v.SetDefault("rpc", true)
	v.SetDefault("rpc_socket_port", 9600)
	v.SetDefault("sync_crds", false)
	v.SetDefault("prometheus", false)
	v.SetDefault("metrics", false)

	return v
}

func resolve(v *viper.Viper) (*Config, error) {
	size, err := ParseSize(v.GetString("size"))
	if err != nil {
		return nil, errors.Wrap(err, "config: size")
	}

	cfg := &Config{
		Deployment:      Deployment(v.GetString("deployment")),
		MetaBackend:     MetaBackend(v.GetString("meta")),
		MetaEndpoint:    v.GetString("meta_endpoint"),
		MetaPrefix:      v.GetString("meta_prefix"),
		MetaCmd:         v.GetString("meta_cmd"),
		Size:            size,
		Allocator:       Allocator(v.GetString("allocator")),
		StreamThreshold: v.GetInt("stream_threshold"),
		SpillPath:       v.GetString("spill_path"),
		SpillLowerRate:  v.GetFloat64("spill_lower_rate"),
		SpillUpperRate:  v.GetFloat64("spill_upper_rate"),
		Socket:          v.GetString("socket"),
		RPC:             v.GetBool("rpc"),
		RPCSocketPort:   v.GetInt("rpc_socket_port"),
		SyncCRDs:        v.GetBool("sync_crds"),
		Prometheus:      v.GetBool("prometheus"),
		Metrics:         v.GetBool("metrics"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Deployment {
	case DeploymentLocal, DeploymentDistributed:
	default:
		return errors.Errorf("config: unknown deployment %q", c.Deployment)
	}
	switch c.MetaBackend {
	case MetaBackendLocal, MetaBackendEtcd, MetaBackendRedis:
	default:
		return errors.Errorf("config: unknown meta backend %q", c.MetaBackend)
	}
	switch c.Allocator {
	case AllocatorDLMalloc, AllocatorMiMalloc:
	default:
		return errors.Errorf("config: unknown allocator %q", c.Allocator)
	}
	if c.SpillPath != "" && c.SpillLowerRate >= c.SpillUpperRate {
		return errors.Errorf("config: spill_lower_rate must be < spill_upper_rate")
	}
	return nil
}

func configFileType(path string) string {
	if strings.HasSuffix(path, ".json") {
		return "json"
	}
	return "yaml"
}

var sizeSuffix = regexp.MustCompile(`(?i)^([0-9]+(?:\.[0-9]+)?)\s*([kmgtpe]i?)?b?$`)

var binaryMultiples = map[string]uint64{
	"k": 1000, "ki": 1 << 10,
	"m": 1000 * 1000, "mi": 1 << 20,
	"g": 1000 * 1000 * 1000, "gi": 1 << 30,
	"t": 1000 * 1000 * 1000 * 1000, "ti": 1 << 40,
	"p": 1000 * 1000 * 1000 * 1000 * 1000, "pi": 1 << 50,
	"e": 1000 * 1000 * 1000 * 1000 * 1000 * 1000, "ei": 1 << 60,
}

// ParseSize parses a human-readable byte size such as "256Mi", "4G" or a
// bare integer number of bytes, as accepted by the "size" config key.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("config: empty size")
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, nil
	}
	m := sizeSuffix.FindStringSubmatch(s)
	if m == nil {
		return 0, errors.Errorf("config: malformed size %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, errors.Wrapf(err, "config: malformed size %q", s)
	}
	suffix := strings.ToLower(m[2])
	if suffix == "" {
		return uint64(value), nil
	}
	mult, ok := binaryMultiples[suffix]
	if !ok {
		return 0, errors.Errorf("config: unknown size suffix %q", m[2])
	}
	return uint64(value * float64(mult)), nil
}

// FormatSize renders n the way ParseSize's "Gi"-style notation expects:
// two decimals and a binary suffix, or a plain "B" count below 1Ki.
func FormatSize(n uint64) string {
	switch {
	case n >= 1<<60:
		return fmt.Sprintf("%.2fEi", float64(n)/float64(uint64(1)<<60))
	case n >= 1<<50:
		return fmt.Sprintf("%.2fPi", float64(n)/float64(uint64(1)<<50))
	case n >= 1<<40:
		return fmt.Sprintf("%.2fTi", float64(n)/float64(uint64(1)<<40))
	case n >= 1<<30:
		return fmt.Sprintf("%.2fGi", float64(n)/float64(uint64(1)<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2fMi", float64(n)/float64(uint64(1)<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2fKi", float64(n)/float64(uint64(1)<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
