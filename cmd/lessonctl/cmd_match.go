package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Resolve lever deltas for a decision context",
	Long: `Ask the server which override applies to a pattern, category and scope.
With --controls the adjusted controls are printed as well.`,
	Args: cobra.NoArgs,
	RunE: runMatch,
}

var (
	matchBook     string
	matchPattern  string
	matchCategory string
	matchScope    string
	matchControls string
)

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringVar(&matchBook, "book", "", "Book (default book when empty)")
	matchCmd.Flags().StringVar(&matchPattern, "pattern", "", "Pattern key, e.g. pm.uptrend.S1.buy_flag")
	matchCmd.Flags().StringVar(&matchCategory, "category", "", "Action category (entry|add|trim|exit)")
	matchCmd.Flags().StringVar(&matchScope, "scope", "", "Full scope as key=value pairs separated by commas")
	matchCmd.Flags().StringVar(&matchControls, "controls", "", "Baseline controls as key=number pairs")
	_ = matchCmd.MarkFlagRequired("pattern")
	_ = matchCmd.MarkFlagRequired("category")
	_ = matchCmd.MarkFlagRequired("scope")
}

func runMatch(cmd *cobra.Command, args []string) error {
	scope, err := parsePairs(matchScope)
	if err != nil {
		return fmt.Errorf("invalid --scope: %w", err)
	}
	controls, err := parseControls(matchControls)
	if err != nil {
		return fmt.Errorf("invalid --controls: %w", err)
	}

	req := map[string]interface{}{
		"book":            matchBook,
		"pattern_key":     matchPattern,
		"action_category": matchCategory,
		"scope":           scope,
	}
	if len(controls) > 0 {
		req["controls"] = controls
	}

	var resp struct {
		Matched         bool               `json:"matched"`
		OverrideID      string             `json:"override_id"`
		SubsetValues    map[string]string  `json:"scope_subset_values"`
		Strength        float64            `json:"strength"`
		Levers          map[string]float64 `json:"levers"`
		SnapshotVersion int64              `json:"snapshot_version"`
		Controls        map[string]float64 `json:"controls"`
	}
	raw, err := newAPIClient(serverAddr, 10*time.Second).do(cmd.Context(), http.MethodPost, "/api/match", nil, req, &resp)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(raw, resp)
		return nil
	}

	if !resp.Matched {
		fmt.Printf("no override (snapshot v%d); identity levers\n", resp.SnapshotVersion)
	} else {
		fmt.Printf("override %s (snapshot v%d)\n", resp.OverrideID, resp.SnapshotVersion)
		fmt.Printf("  scope:    %s\n", formatStrings(resp.SubsetValues))
		fmt.Printf("  strength: %.3f\n", resp.Strength)
	}
	fmt.Printf("  levers:   %s\n", formatFloats(resp.Levers))
	if len(resp.Controls) > 0 {
		fmt.Printf("  controls: %s\n", formatFloats(resp.Controls))
	}
	return nil
}

func parseControls(s string) (map[string]float64, error) {
	pairs, err := parsePairs(s)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(pairs))
	for k, v := range pairs {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("control %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

// printJSON prints the server's response body, or v re-encoded when there is none
func printJSON(raw []byte, v interface{}) {
	if len(raw) > 0 {
		_, _ = os.Stdout.Write(raw)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
