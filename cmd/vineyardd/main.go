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

// Command vineyardd is the daemon: it binds the root session's
// Unix-domain socket (and, unless disabled, a TCP RPC endpoint),
// accepts connections, and hands each one off to its own ipc.Handler
// goroutine.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/log"
	"github.com/vineyard-go/vineyard/pkg/server/arena"
	"github.com/vineyard-go/vineyard/pkg/server/bulkstore"
	"github.com/vineyard-go/vineyard/pkg/server/config"
	"github.com/vineyard-go/vineyard/pkg/server/ipc"
	"github.com/vineyard-go/vineyard/pkg/server/metastore"
	"github.com/vineyard-go/vineyard/pkg/server/metrics"
	"github.com/vineyard-go/vineyard/pkg/server/session"
)

var (
	configFile    string
	socket        string
	rpcSocketPort int
	noRPC         bool
	metaBackend   string
	metaEndpoint  string
	metaPrefix    string
	size          string
	allocatorFlag string
	spillPath     string
	spillLower    float64
	spillUpper    float64
	prometheusOn  bool
	metricsOn     bool
	metricsAddr   string
	verbose       int
)

var cmd = &cobra.Command{
	Use:     "vineyardd",
	Short:   "vineyardd is the vineyard daemon, an in-memory immutable object store",
	Version: common.VINEYARD_VERSION_STRING,
	RunE:    run,
}

func init() {
	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "path to a vineyardd config file (yaml or json)")
	flags.StringVar(&socket, "socket", "/var/run/vineyard.sock", "path of the IPC Unix-domain socket")
	flags.IntVar(&rpcSocketPort, "rpc_socket_port", 9600, "port of the RPC (TCP) endpoint")
	flags.BoolVar(&noRPC, "norpc", false, "disable the RPC endpoint")
	flags.StringVar(&metaBackend, "meta", "local", "metadata backend: local, etcd or redis")
	flags.StringVar(&metaEndpoint, "meta_endpoint", "", "endpoint for the etcd/redis metadata backend")
	flags.StringVar(&metaPrefix, "meta_prefix", "/vineyard", "key prefix for the metadata backend")
	flags.StringVar(&size, "size", "256Mi", "bulk store size limit, e.g. 256Mi, 4Gi, or a bare byte count")
	flags.StringVar(&allocatorFlag, "allocator", "dlmalloc", "arena allocator: dlmalloc or mimalloc")
	flags.StringVar(&spillPath, "spill_path", "", "directory to spill evicted blobs into; empty disables spilling")
	flags.Float64Var(&spillLower, "spill_lower_rate", 0.3, "stop spilling once footprint drops below this fraction of size")
	flags.Float64Var(&spillUpper, "spill_upper_rate", 0.8, "start spilling once footprint exceeds this fraction of size")
	flags.BoolVar(&prometheusOn, "prometheus", false, "enable prometheus metrics")
	flags.BoolVar(&metricsOn, "metrics", false, "enable the metrics sink regardless of whether prometheus is scraping it")
	flags.StringVar(&metricsAddr, "metrics_addr", ":9144", "address the /metrics endpoint listens on when prometheus is enabled")
	flags.IntVarP(&verbose, "verbose", "v", 0, "log verbosity")
}

func main() {
	if err := cmd.Execute(); err != nil {
		log.Log.Error(err, "vineyardd exited with an error")
		os.Exit(1)
	}
}

func run(c *cobra.Command, _ []string) error {
	log.SetLogLevel(verbose)
	logger := log.WithName("vineyardd")

	overrides := map[string]string{
		"socket":           socket,
		"rpc_socket_port":  strconv.Itoa(rpcSocketPort),
		"rpc":              strconv.FormatBool(!noRPC),
		"meta":             metaBackend,
		"meta_endpoint":    metaEndpoint,
		"meta_prefix":      metaPrefix,
		"size":             size,
		"allocator":        allocatorFlag,
		"spill_path":       spillPath,
		"spill_lower_rate": strconv.FormatFloat(spillLower, 'f', -1, 64),
		"spill_upper_rate": strconv.FormatFloat(spillUpper, 'f', -1, 64),
		"prometheus":       strconv.FormatBool(prometheusOn),
		"metrics":          strconv.FormatBool(metricsOn),
	}
	for key := range overrides {
		name := key
		if key == "rpc" {
			name = "norpc"
		}
		if !c.Flags().Changed(name) {
			delete(overrides, key)
		}
	}
	cfg, err := config.Load(afero.NewOsFs(), configFile, overrides)
	if err != nil {
		return err
	}

	meta, err := openMetaStore(cfg)
	if err != nil {
		return err
	}
	defer meta.Close()

	runner, err := session.NewRunner(cfg.Socket, session.Config{
		FootprintLimit: cfg.Size,
		Spill: bulkstore.SpillConfig{
			Path: cfg.SpillPath, LowerRate: cfg.SpillLowerRate, UpperRate: cfg.SpillUpperRate,
		},
		Allocator: arena.Kind(cfg.Allocator),
		Meta:      meta,
	})
	if err != nil {
		return err
	}
	defer runner.Shutdown()

	root := runner.Root()
	ipcListener, err := root.Listener()
	if err != nil {
		return err
	}
	logger.Info("listening for ipc connections", "socket", cfg.Socket)

	regInfo := ipc.RegInfo{InstanceID: 0}
	if cfg.RPC {
		regInfo.RPCEndpoint = fmt.Sprintf("0.0.0.0:%d", cfg.RPCSocketPort)
	}

	var sink *metrics.Sink
	if cfg.Prometheus || cfg.Metrics {
		registry := prometheus.NewRegistry()
		sink = metrics.NewSink(registry)
		if cfg.Prometheus {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error(err, "metrics server exited")
				}
			}()
			logger.Info("serving /metrics", "addr", metricsAddr)
		}
	}

	// Every child session spun up by a new_session request gets its own
	// IPC-only acceptor the moment it's created; only the root session
	// also fields RPC connections.
	runner.OnSessionCreated(func(sess *session.Session) {
		ln, err := sess.Listener()
		if err != nil {
			logger.Error(err, "failed to bind child session socket", "session", sess.SocketPath)
			return
		}
		logger.Info("listening for ipc connections", "socket", sess.SocketPath)
		go acceptLoop(logger, ln, sess, false, regInfo, runner, sink)
	})

	go acceptLoop(logger, ipcListener, root, false, regInfo, runner, sink)

	var rpcListener net.Listener
	if cfg.RPC {
		rpcListener, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.RPCSocketPort))
		if err != nil {
			return err
		}
		logger.Info("listening for rpc connections", "port", cfg.RPCSocketPort)
		go acceptLoop(logger, rpcListener, root, true, regInfo, runner, sink)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	_ = ipcListener.Close()
	if rpcListener != nil {
		_ = rpcListener.Close()
	}
	return nil
}

// acceptLoop binds a single session to a single listener: every
// connection accepted here is dispatched against sess, since the
// session a socket serves is determined once, at bind time, never
// per-connection.
func acceptLoop(logger log.Logger, ln net.Listener, sess *session.Session, remote bool, info ipc.RegInfo, runner *session.Runner, sink *metrics.Sink) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		if sink != nil {
			sink.Observe(metrics.Counter, "connections_accepted_total", map[string]string{"remote": strconv.FormatBool(remote)}, 1)
		}
		h := ipc.New(conn, sess, remote, info, runner)
		go h.Serve()
	}
}

func openMetaStore(cfg *config.Config) (metastore.Store, error) {
	switch cfg.MetaBackend {
	case config.MetaBackendEtcd:
		return metastore.NewEtcd(cfg.MetaEndpoint, cfg.MetaPrefix)
	case config.MetaBackendRedis:
		return metastore.NewRedis(cfg.MetaEndpoint, cfg.MetaPrefix)
	default:
		dir := cfg.MetaPrefix
		if dir == "" {
			dir = "/var/run/vineyard-meta"
		}
		return metastore.NewLocal(dir)
	}
}
