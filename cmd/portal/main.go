package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dstrand/portal/internal/buffer"
	"github.com/dstrand/portal/internal/config"
	"github.com/dstrand/portal/internal/connection"
	"github.com/dstrand/portal/internal/envelope"
	"github.com/dstrand/portal/internal/logger"
	"github.com/dstrand/portal/internal/portal"
	"github.com/dstrand/portal/internal/queue"
)

var version = "dev"

func main() {
	var configPath string
	var logLevel string
	var logFile string
	var username string

	root := &cobra.Command{
		Use:   "portal",
		Short: "portal — peer-to-peer collaborative text editing over WebRTC",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "portal.yaml", "Path to portal.yaml")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "Additional log file")
	root.PersistentFlags().StringVar(&username, "username", "", "Display name (default: randomly generated)")

	root.AddCommand(
		versionCmd(),
		hostCmd(&configPath, &logLevel, &logFile, &username),
		joinCmd(&configPath, &logLevel, &logFile, &username),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the portal version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func hostCmd(configPath, logLevel, logFile, username *string) *cobra.Command {
	return &cobra.Command{
		Use:   "host <uri>",
		Short: "Host a new portal for the document at <uri>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := args[0]
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			sess, err := bootstrap(ctx, *configPath, *logLevel, *logFile)
			if err != nil {
				return err
			}
			go func() {
				if err := sess.Connect(ctx); err != nil && ctx.Err() == nil {
					logger.Error("signalling connection ended", "err", err)
				}
			}()

			localPeerID, err := awaitLocalPeerID(ctx, sess)
			if err != nil {
				return err
			}
			name := resolveUsername(*username)

			registry := queue.NewRegistry()
			pstore := portal.NewStore()
			factory := portal.NewFactory(pstore, registry)

			host, pair := factory.CreateHost(localPeerID, name)
			buf := newMemBuffer("")
			host.RegisterBuffer(uri, buf, "", func(msg buffer.Message) {
				envs, err := host.HandleLocalEdit(msg)
				if err != nil {
					logger.Warn("host: failed applying local edit", "err", err)
					return
				}
				if err := portal.PublishLocal(ctx, pair, envs); err != nil {
					logger.Warn("host: failed publishing local edit", "err", err)
				}
			})

			logger.Info("hosting portal", "peer_id", localPeerID, "uri", uri, "username", name)
			runBridge(ctx, sess, pair)
			return nil
		},
	}
}

func joinCmd(configPath, logLevel, logFile, username *string) *cobra.Command {
	return &cobra.Command{
		Use:   "join <host-peer-id> <uri>",
		Short: "Join the portal hosted by <host-peer-id>, attaching the document at <uri>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostPeerID := args[0]
			uri := args[1]
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			sess, err := bootstrap(ctx, *configPath, *logLevel, *logFile)
			if err != nil {
				return err
			}
			go func() {
				if err := sess.Connect(ctx); err != nil && ctx.Err() == nil {
					logger.Error("signalling connection ended", "err", err)
				}
			}()

			localPeerID, err := awaitLocalPeerID(ctx, sess)
			if err != nil {
				return err
			}
			name := resolveUsername(*username)

			registry := queue.NewRegistry()
			pstore := portal.NewStore()
			factory := portal.NewFactory(pstore, registry)

			guest, pair := factory.CreateGuest(hostPeerID, localPeerID, name)

			if err := sess.ConnectToPeer(ctx, hostPeerID); err != nil {
				return fmt.Errorf("portal: connect to host: %w", err)
			}

			joinEnv, err := guest.SendJoin()
			if err != nil {
				return fmt.Errorf("portal: send join: %w", err)
			}
			if err := portal.PublishLocal(ctx, pair, []envelope.Envelope{joinEnv}); err != nil {
				return fmt.Errorf("portal: publish join: %w", err)
			}

			buf := newMemBuffer("")
			guest.RegisterBuffer(uri, buf, func(msg buffer.Message) {
				envs, err := guest.HandleLocalEdit(msg)
				if err != nil {
					logger.Warn("guest: failed applying local edit", "err", err)
					return
				}
				if err := portal.PublishLocal(ctx, pair, envs); err != nil {
					logger.Warn("guest: failed publishing local edit", "err", err)
				}
			})

			logger.Info("joining portal", "peer_id", localPeerID, "host", hostPeerID, "username", name)
			runBridge(ctx, sess, pair)
			return nil
		},
	}
}

func bootstrap(ctx context.Context, configPath, logLevel, logFile string) (*connection.Session, error) {
	if err := logger.Init(logLevel, logFile); err != nil {
		return nil, fmt.Errorf("portal: init logger: %w", err)
	}
	sessionID := uuid.New().String()[:8]
	logger.Log = logger.Log.With("session", sessionID)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("portal: load config: %w", err)
	}
	store := config.NewStore(cfg)
	if _, err := config.Watch(configPath, store); err != nil {
		logger.Debug("config: not watching (file may not exist yet)", "path", configPath, "err", err)
	}

	limiter := connection.NewPeerRateLimiter(cfg.OutboundRate.BytesPerSec, cfg.OutboundRate.Burst)
	sess := connection.NewSession(cfg.SignalingURL, cfg.Reconnect.Base, cfg.Reconnect.Max, cfg.ICEServers, limiter)
	go applyConfigOnChange(ctx, sess, store)
	return sess, nil
}

// applyConfigOnChange polls store for the hot-reloaded ICE server list and
// outbound rate limit, pushing any change into sess (SPEC_FULL.md §4.11 —
// no restart required).
func applyConfigOnChange(ctx context.Context, sess *connection.Session, store *config.Store) {
	var last config.Config
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := store.Current()
			if cur.OutboundRate != last.OutboundRate || !sameICEServers(cur.ICEServers, last.ICEServers) {
				sess.ApplyConfig(cur.ICEServers, cur.OutboundRate)
				last = cur
			}
		}
	}
}

func sameICEServers(a, b []config.ICEServer) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i].URLs) != len(b[i].URLs) || a[i].Username != b[i].Username || a[i].Credential != b[i].Credential {
			return false
		}
		for j := range a[i].URLs {
			if a[i].URLs[j] != b[i].URLs[j] {
				return false
			}
		}
	}
	return true
}

// awaitLocalPeerID blocks until the signalling server assigns this process
// a peer ID (spec.md §4.8 ASSIGN_PEER_ID), or ctx is cancelled first.
func awaitLocalPeerID(ctx context.Context, sess *connection.Session) (string, error) {
	for {
		select {
		case env := <-sess.Inbound:
			if env.Type() == envelope.LocalPeerID {
				return env.Body().AssignedPeerID, nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// runBridge ferries envelopes between the network session and a portal
// binding's queue pair until ctx is cancelled: inbound peer/server messages
// flow into pair.In, and whatever the binding publishes to pair.Out is
// routed back out over the network.
func runBridge(ctx context.Context, sess *connection.Session, pair queue.Pair) {
	go func() {
		for {
			select {
			case env := <-sess.Inbound:
				if err := pair.In.Publish(ctx, env); err != nil {
					logger.Warn("bridge: failed delivering inbound envelope", "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		env, ok, err := pair.Out.Receive(ctx)
		if err != nil || !ok {
			return
		}
		if err := sess.Router.Route(ctx, env); err != nil {
			logger.Warn("bridge: failed routing outbound envelope", "type", env.Type(), "err", err)
		}
	}
}

func resolveUsername(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return portal.GenerateUsername()
}
