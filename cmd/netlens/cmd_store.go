// Package main implements the netlens CLI commands.
// This file contains the history read path: query, stats, prune.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"netlens/internal/store"
	"netlens/internal/types"
)

var (
	queryType        string
	queryMethod      string
	queryStatus      int
	queryURL         string
	queryURLPattern  string
	queryError       string
	queryContentType string
	queryMinStatus   int
	queryMaxStatus   int
	queryMinSize     int64
	queryMaxSize     int64
	querySince       time.Duration
	querySortBy      string
	queryLimit       int
	queryOffset      int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the request history",
	Long: `Runs a predicate query over the request store. Every flag given is
ANDed into the predicate; with no flags the most recent requests are
returned up to the limit.`,
	RunE: runQuery,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate request statistics",
	RunE:  runStats,
}

var pruneCmd = &cobra.Command{
	Use:   "prune [days]",
	Short: "Delete requests older than the given number of days",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrune,
}

func init() {
	queryCmd.Flags().StringVar(&queryType, "type", "", "resource type (xhr, fetch, document, ...)")
	queryCmd.Flags().StringVar(&queryMethod, "method", "", "HTTP method")
	queryCmd.Flags().IntVar(&queryStatus, "status", 0, "exact response status")
	queryCmd.Flags().StringVar(&queryURL, "url", "", "URL substring")
	queryCmd.Flags().StringVar(&queryURLPattern, "url-pattern", "", "URL regexp")
	queryCmd.Flags().StringVar(&queryError, "error", "", "error substring")
	queryCmd.Flags().StringVar(&queryContentType, "content-type", "", "response content-type substring")
	queryCmd.Flags().IntVar(&queryMinStatus, "min-status", 0, "minimum response status")
	queryCmd.Flags().IntVar(&queryMaxStatus, "max-status", 0, "maximum response status")
	queryCmd.Flags().Int64Var(&queryMinSize, "min-size", 0, "minimum response size in bytes")
	queryCmd.Flags().Int64Var(&queryMaxSize, "max-size", 0, "maximum response size in bytes")
	queryCmd.Flags().DurationVar(&querySince, "since", 0, "only requests newer than this (e.g. 2h)")
	queryCmd.Flags().StringVar(&querySortBy, "sort", types.SortByTimestamp, "sort key: timestamp, responseSize, status")
	queryCmd.Flags().IntVar(&queryLimit, "limit", types.DefaultQueryLimit, "maximum rows returned")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "rows to skip")
}

// openStore loads config and opens the request store for read commands.
func openStore() (*store.RequestStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewRequestStore(cfg.Store.Path)
}

func runQuery(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	q := types.RequestQuery{
		Type:                queryType,
		Method:              queryMethod,
		Status:              queryStatus,
		URL:                 queryURL,
		URLPattern:          queryURLPattern,
		Error:               queryError,
		ResponseContentType: queryContentType,
		MinStatus:           queryMinStatus,
		MaxStatus:           queryMaxStatus,
		MinResponseSize:     queryMinSize,
		MaxResponseSize:     queryMaxSize,
		SortBy:              querySortBy,
		Limit:               queryLimit,
		Offset:              queryOffset,
	}
	if querySince > 0 {
		q.StartTime = time.Now().Add(-querySince)
	}

	records, err := st.Query(q)
	if err != nil {
		return err
	}
	return printJSON(records)
}

func runStats(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runPrune(cmd *cobra.Command, args []string) error {
	days, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid day count %q", args[0])
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	removed, err := st.Prune(days)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d requests older than %d days\n", removed, days)
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}
