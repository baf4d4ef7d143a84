package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/lessons/internal/config"
	"github.com/aristath/lessons/internal/di"
	"github.com/aristath/lessons/internal/domain"
)

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Run the batch miner",
	Long: `Run the batch miner once and print the run record.

By default the run is triggered on the server. With --offline the miner runs
in-process against the local data directory (LESSONS_DATA_DIR); the server
must not be mining at the same time.`,
	RunE: runMine,
}

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recent miner runs or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

var (
	mineBook    string
	mineOffline bool
	mineTimeout time.Duration
	runsLimit   int
)

func init() {
	rootCmd.AddCommand(mineCmd)
	rootCmd.AddCommand(runsCmd)

	mineCmd.Flags().StringVar(&mineBook, "book", "", "Restrict the run to one book (default: all books)")
	mineCmd.Flags().BoolVar(&mineOffline, "offline", false, "Run in-process instead of on the server")
	mineCmd.Flags().DurationVar(&mineTimeout, "timeout", 15*time.Minute, "How long to wait for the run")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")
}

func runMine(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), mineTimeout)
	defer cancel()

	var book *string
	if mineBook != "" {
		book = &mineBook
	}

	if mineOffline {
		return mineOfflineRun(ctx, book)
	}

	var body struct {
		Book *string `json:"book,omitempty"`
	}
	body.Book = book

	var run domain.MinerRun
	raw, err := newAPIClient(serverAddr, mineTimeout).do(ctx, http.MethodPost, "/api/miner/runs", nil, body, &run)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusInternalServerError {
		// failed runs come back as a run record
		_ = json.Unmarshal(raw, &run)
	}
	if run.RunID != "" {
		printRuns(raw, []domain.MinerRun{run})
	}
	return err
}

func mineOfflineRun(ctx context.Context, book *string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	container, _, err := di.Wire(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.Close()

	run, err := container.Miner.Run(ctx, book)
	if run != nil {
		printRuns(nil, []domain.MinerRun{*run})
	}
	return err
}

func runRuns(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverAddr, 30*time.Second)

	if len(args) == 1 {
		var run domain.MinerRun
		raw, err := client.do(cmd.Context(), http.MethodGet, "/api/miner/runs/"+url.PathEscape(args[0]), nil, nil, &run)
		if err != nil {
			return err
		}
		printRuns(raw, []domain.MinerRun{run})
		return nil
	}

	var resp struct {
		Runs []domain.MinerRun `json:"runs"`
	}
	raw, err := client.do(cmd.Context(), http.MethodGet, "/api/miner/runs",
		url.Values{"limit": {strconv.Itoa(runsLimit)}}, nil, &resp)
	if err != nil {
		return err
	}
	printRuns(raw, resp.Runs)
	return nil
}

func printRuns(raw []byte, runs []domain.MinerRun) {
	if jsonOutput {
		printJSON(raw, runs)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tBOOK\tSTATUS\tSTARTED\tEVENTS\tSTATS\tPROMOTED\tVERSION\tERROR")
	for _, r := range runs {
		book := "*"
		if r.Book != nil {
			book = *r.Book
		}
		version := "-"
		if r.SnapshotVersion != nil {
			version = strconv.FormatInt(*r.SnapshotVersion, 10)
		}
		errText := ""
		if r.Error != nil {
			errText = *r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.RunID, book, r.Status, r.StartedAt.Format(time.RFC3339),
			r.EventsScanned, r.StatsRetained, r.OverridesCreated, version, errText)
	}
	_ = w.Flush()
}
