package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentmail/coordinator/cluster"
	"github.com/agentmail/coordinator/coordinator"
	"github.com/agentmail/coordinator/external"
	agentlogger "github.com/agentmail/coordinator/logger"
	"github.com/agentmail/coordinator/observability"
	"github.com/agentmail/coordinator/transport"
)

type runFlags struct {
	*baseFlags

	nodeID            string
	listenAddr        string
	metricsAddr       string
	peers             []string
	specializations   []string
	rpcTimeout        time.Duration
	healthyInterval   time.Duration
	failureThreshold  int
	replicationFactor int
}

// runCmd mirrors the teacher's shardNodeRunCmd: a subcommand that loads
// config from flags, assembles the long-lived component, and drives it
// with errgroup.Wait under the root's quit-signal context until shutdown.
func runCmd(base *baseFlags) *cobra.Command {
	f := &runFlags{baseFlags: base}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one coordinator node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.nodeID, "node-id", "", "this node's cluster identity (required)")
	flags.StringVar(&f.listenAddr, "listen", "/ip4/0.0.0.0/tcp/0", "libp2p listen multiaddr for this node")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "address to serve /metrics on, e.g. :9090 (disabled if empty)")
	flags.StringSliceVar(&f.peers, "peer", nil, "cluster member as id=multiaddr/p2p/peerID, repeatable, must include self")
	flags.StringSliceVar(&f.specializations, "specialization", nil, "specialization tag this node advertises, repeatable")
	flags.DurationVar(&f.rpcTimeout, "rpc-timeout", 5*time.Second, "per-RPC timeout for consensus and heartbeat calls")
	flags.DurationVar(&f.healthyInterval, "healthy-interval", 10*time.Second, "failure-scan tick interval; heartbeats are sent every half interval")
	flags.IntVar(&f.failureThreshold, "failure-threshold", 3, "consecutive missed scans before a peer is marked FAILED")
	flags.IntVar(&f.replicationFactor, "replication-factor", 3, "number of replicas each assignment is pushed to")
	_ = cmd.MarkFlagRequired("node-id")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

func runNode(ctx context.Context, f *runFlags) error {
	peers, err := parsePeers(f.peers)
	if err != nil {
		return err
	}

	cfg, err := coordinator.NewConfig(cluster.NodeID(f.nodeID), peers,
		coordinator.WithRPCTimeout(f.rpcTimeout),
		coordinator.WithHealthyInterval(f.healthyInterval),
		coordinator.WithFailureThreshold(f.failureThreshold),
		coordinator.WithReplicationFactor(f.replicationFactor),
		coordinator.WithSpecializations(parseSpecializations(f.specializations)...),
	)
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	obs := observability.NewFactory(f.LogLevel)

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return fmt.Errorf("coordinator: generating libp2p identity: %w", err)
	}
	host, err := libp2p.New(libp2p.Identity(priv), libp2p.ListenAddrStrings(f.listenAddr))
	if err != nil {
		return fmt.Errorf("coordinator: starting libp2p host: %w", err)
	}
	defer host.Close()

	membership, err := cluster.New(cfg.NodeID, cfg.ClusterNodes)
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	resolver, err := transport.NewStaticResolver(host, membership)
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	// classifier and reply delivery are out of this module's scope (spec
	// §1 non-goals); the CLI's default wiring dispatches every message to
	// an empty specialization and only logs the reply handoff.
	classifier := external.ClassifierFunc(func(ctx context.Context, subjectAndBody, sender string) (cluster.Specialization, error) {
		return "", nil
	})
	replyHandler := external.ReplyHandlerFunc(func(ctx context.Context, threadID, inboxID string, event external.InboundEvent) (external.Result, error) {
		obs.Logger().Info("assignment decided locally, no reply handler wired", "thread_id", threadID)
		return external.Result{Handled: false, Detail: "no reply handler configured"}, nil
	})

	// The libp2p wire's inbound stream handlers dispatch into the same
	// Handlers the Router serves self-addressed calls against, so the
	// Coordinator is built first (with no outbound wire yet) and the wire
	// is wired in once its Handlers are available.
	c, err := coordinator.New(cfg, nil, classifier, replyHandler, obs, nil)
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	libp2pWire := transport.NewLibP2PWire(host, resolver, c.Handlers(), cfg.NodeID, obs.Logger())
	c.SetWire(libp2pWire)

	obs.Logger().Info("coordinator starting", "node_id", cfg.NodeID, "listen", host.Addrs())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(ctx) })
	g.Go(func() error { return serveMetrics(ctx, f.metricsAddr, obs) })
	return g.Wait()
}

// serveMetrics runs the Prometheus /metrics endpoint the way the teacher's
// shardNodeRun runs its RPC server alongside the node: a plain http.Server
// in its own errgroup goroutine, closed on ctx cancellation rather than
// torn down with os.Exit. An empty addr disables it without failing the
// group, the same "return nil" escape the teacher uses when no RPC address
// is configured.
func serveMetrics(ctx context.Context, addr string, obs observability.Observability) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(obs.PrometheusGatherer(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		obs.Logger().Info("metrics server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		if err := srv.Close(); err != nil {
			obs.Logger().Warn("metrics server close error", agentlogger.Error(err))
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
