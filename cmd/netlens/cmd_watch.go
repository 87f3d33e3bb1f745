// Package main implements the netlens CLI commands.
// This file contains the live monitoring command.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"netlens/internal/monitor"
	"netlens/internal/store"
	"netlens/internal/types"
)

var (
	watchEndpoint   string
	watchURLPattern string
	watchTypes      []string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Attach to a browser and stream network request updates",
	Long: `Connects to a debuggable Chrome (launching one if no endpoint is
given), tracks every network request on the first page target, and prints
each filter-passing update as a JSON line. Snapshots are persisted to the
request store as they evolve. Ctrl+C stops tracking.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchEndpoint, "endpoint", "", "DevTools websocket endpoint (default: launch Chrome)")
	watchCmd.Flags().StringVar(&watchURLPattern, "url-pattern", "", "only emit requests whose URL matches this regexp")
	watchCmd.Flags().StringSliceVar(&watchTypes, "types", nil, "only emit these resource types (xhr,fetch,document,...)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.NewRequestStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open request store: %w", err)
	}
	defer st.Close()

	m := monitor.New(cfg, st)
	defer m.Close()

	// Hot-reload the subscriber filter when the config file changes.
	if fw, err := monitor.NewFilterWatcher(configPath, m); err == nil {
		if err := fw.Start(); err == nil {
			defer fw.Stop()
		}
	}

	var filter *types.RequestFilter
	if watchURLPattern != "" || len(watchTypes) > 0 {
		filter = &types.RequestFilter{URLPattern: watchURLPattern, Types: watchTypes}
	}

	if err := m.StartTracking(context.Background(), watchEndpoint, filter); err != nil {
		return err
	}
	logger.Info("tracking started",
		zap.String("session", m.SessionID()),
		zap.String("endpoint", watchEndpoint))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case rec, ok := <-m.Updates():
			if !ok {
				return nil
			}
			if err := enc.Encode(rec); err != nil {
				logger.Warn("failed to encode update", zap.Error(err))
			}
		case <-sigCh:
			active := m.ListActive()
			m.StopTracking()
			logger.Info("tracking stopped", zap.Int("in_flight", len(active)))
			return nil
		}
	}
}
