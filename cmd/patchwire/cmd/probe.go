package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/patchwire/internal/components"
	"github.com/solatis/patchwire/internal/core/config"
	"github.com/solatis/patchwire/internal/core/metrics"
	"github.com/solatis/patchwire/internal/hub"
	"github.com/solatis/patchwire/internal/predict"
	"github.com/solatis/patchwire/internal/reconcile"
	"github.com/solatis/patchwire/internal/retry"
	"github.com/solatis/patchwire/internal/types"
	"github.com/solatis/patchwire/internal/vdom"
)

var (
	probeURL     string
	probeCount   int
	probePredict bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Connect to a hub and drive a counter component",
	Long: `Connect to a hub as a client, mount a counter component and increment it --count
times. With --predict each increment is preceded by a RequestPrediction so the client
applies the server's predicted patches before the server confirms them.

The API key is read from PW_CLIENT_TOKEN.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeURL, "url", "", "hub URL (overrides hub_client.url)")
	probeCmd.Flags().IntVar(&probeCount, "count", 3, "number of increments")
	probeCmd.Flags().BoolVar(&probePredict, "predict", false, "request a prediction before each increment")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	clientCfg := cfg.Client
	if probeURL != "" {
		clientCfg.URL = probeURL
	}
	if probeCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	conn, err := newClientConnection(clientCfg)
	if err != nil {
		return err
	}
	for _, kind := range []hub.EventKind{hub.EventConnected, hub.EventDisconnected, hub.EventReconnecting, hub.EventReconnected, hub.EventError} {
		conn.OnEvent(kind, func(ev hub.Event) {
			if ev.Err != nil {
				logger.Warn("hub event", "event", string(ev.Kind), "error", ev.Err)
				return
			}
			logger.Info("hub event", "event", string(ev.Kind))
		})
	}

	m := metrics.New()
	cache := predict.New(predict.Config{
		MaxEntries:    clientCfg.PredictionMaxEntries,
		MaxAge:        clientCfg.PredictionMaxAge,
		MinConfidence: clientCfg.MinConfidence,
	}, logger)
	coord, err := reconcile.New(reconcile.Options{Invoker: conn, Cache: cache, Metrics: m, Logger: logger})
	if err != nil {
		return err
	}
	unbind := coord.Bind(conn)
	defer unbind()
	defer coord.Close()

	if err := conn.Start(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", clientCfg.URL, err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conn.Stop(stopCtx); err != nil {
			logger.Warn("hub stop failed", "error", err)
		}
	}()

	id := types.ComponentID("probe-" + string(types.NewSessionID()))
	sink := reconcile.SinkFunc(func(ops []vdom.Patch) error {
		logger.Debug("mutations applied", "component_id", id, "patches", len(ops))
		return nil
	})
	if err := coord.Mount(ctx, reconcile.MountOptions{
		ID:     id,
		Type:   components.Counter.Type,
		State:  components.Counter.Initial,
		Render: components.Counter.Render,
		Sink:   sink,
	}); err != nil {
		return err
	}
	defer func() {
		if err := coord.Unmount(id); err != nil {
			logger.Warn("unmount failed", "component_id", id, "error", err)
		}
	}()

	for i := 1; i <= probeCount; i++ {
		in := reconcile.Interaction{
			ComponentID: id,
			Event:       "count",
			Payload:     json.RawMessage(strconv.Itoa(i)),
		}
		if probePredict {
			rec, stored, err := coord.RequestPrediction(ctx, in)
			if err != nil {
				return err
			}
			logger.Info("prediction requested", "stored", stored, "confidence", rec.Confidence, "patches", len(rec.Patches))
		}

		start := time.Now()
		res, err := coord.Interact(ctx, in)
		if err != nil {
			return err
		}
		tree, err := coord.Tree(id)
		if err != nil {
			return err
		}
		logger.Info("interaction reconciled",
			"count", i,
			"predicted", res.PredictionID != "",
			"matched", res.Matched,
			"corrections", len(res.CorrectionPatches),
			"hash", vdom.Hash(tree),
			"elapsed", time.Since(start),
		)
	}

	logger.Info("probe finished", "interactions", probeCount, "cached_predictions", cache.Len())
	return nil
}

func newClientConnection(cfg *config.HubClientConfig) (*hub.Connection, error) {
	policy, err := retry.Parse(cfg.ReconnectPolicy)
	if err != nil {
		return nil, err
	}
	return hub.NewConnection(hub.Options{
		URL:               cfg.URL,
		Token:             config.ClientToken(),
		ReconnectPolicy:   policy,
		ConnectionTimeout: cfg.ConnectionTimeout,
		InvocationTimeout: cfg.InvocationTimeout,
		KeepAliveInterval: cfg.KeepAliveInterval,
		ServerTimeout:     cfg.ServerTimeout,
		DebugLogging:      cfg.DebugLogging,
		Logger:            logger,
	})
}
