package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var overridesCmd = &cobra.Command{
	Use:   "overrides",
	Short: "Inspect and toggle published overrides",
}

var overridesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List overrides of the current snapshot",
	Args:  cobra.NoArgs,
	RunE:  runOverridesList,
}

var overridesEnableCmd = &cobra.Command{
	Use:   "enable <override-id>",
	Short: "Re-enable an override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setOverrideEnabled(cmd, args[0], true)
	},
}

var overridesDisableCmd = &cobra.Command{
	Use:   "disable <override-id>",
	Short: "Disable an override; the matcher ignores it until re-enabled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setOverrideEnabled(cmd, args[0], false)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "List retained subset statistics from the last miner run",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var (
	filterBook     string
	filterPattern  string
	filterCategory string
	filterActive   bool
)

func init() {
	rootCmd.AddCommand(overridesCmd)
	rootCmd.AddCommand(statsCmd)
	overridesCmd.AddCommand(overridesListCmd, overridesEnableCmd, overridesDisableCmd)

	for _, c := range []*cobra.Command{overridesListCmd, statsCmd} {
		c.Flags().StringVar(&filterBook, "book", "", "Filter by book")
		c.Flags().StringVar(&filterPattern, "pattern", "", "Filter by pattern key")
		c.Flags().StringVar(&filterCategory, "category", "", "Filter by action category")
	}
	overridesListCmd.Flags().BoolVar(&filterActive, "active", false, "Only overrides above the strength floor")
}

type overrideRow struct {
	OverrideID        string             `json:"override_id"`
	Book              string             `json:"book"`
	PatternKey        string             `json:"pattern_key"`
	Category          string             `json:"action_category"`
	SubsetValues      map[string]string  `json:"scope_subset_values"`
	Levers            map[string]float64 `json:"levers"`
	Edge              float64            `json:"edge"`
	EffectiveStrength float64            `json:"effective_strength"`
	Active            bool               `json:"active"`
	Enabled           bool               `json:"enabled"`
	SampleCount       int                `json:"sample_count"`
}

func filterQuery() url.Values {
	q := url.Values{}
	if filterBook != "" {
		q.Set("book", filterBook)
	}
	if filterPattern != "" {
		q.Set("pattern_key", filterPattern)
	}
	if filterCategory != "" {
		q.Set("action_category", filterCategory)
	}
	return q
}

func runOverridesList(cmd *cobra.Command, args []string) error {
	q := filterQuery()
	if filterActive {
		q.Set("active", "true")
	}

	var resp struct {
		Version     int64         `json:"version"`
		PublishedAt time.Time     `json:"published_at"`
		Overrides   []overrideRow `json:"overrides"`
	}
	raw, err := newAPIClient(serverAddr, 30*time.Second).do(cmd.Context(), http.MethodGet, "/api/overrides", q, nil, &resp)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(raw, resp)
		return nil
	}

	fmt.Printf("snapshot v%d published %s\n", resp.Version, resp.PublishedAt.Format(time.RFC3339))
	printOverrides(resp.Overrides)
	return nil
}

func setOverrideEnabled(cmd *cobra.Command, id string, enabled bool) error {
	var row overrideRow
	raw, err := newAPIClient(serverAddr, 30*time.Second).do(cmd.Context(), http.MethodPut,
		"/api/overrides/"+url.PathEscape(id)+"/enabled", nil, map[string]bool{"enabled": enabled}, &row)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(raw, row)
		return nil
	}
	printOverrides([]overrideRow{row})
	return nil
}

func printOverrides(rows []overrideRow) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBOOK\tPATTERN\tCATEGORY\tSCOPE\tLEVERS\tEDGE\tSTRENGTH\tN\tSTATE")
	for _, o := range rows {
		state := "active"
		switch {
		case !o.Enabled:
			state = "disabled"
		case !o.Active:
			state = "inert"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%+.4f\t%.3f\t%d\t%s\n",
			o.OverrideID, o.Book, o.PatternKey, o.Category,
			formatStrings(o.SubsetValues), formatFloats(o.Levers),
			o.Edge, o.EffectiveStrength, o.SampleCount, state)
	}
	_ = w.Flush()
}

func runStats(cmd *cobra.Command, args []string) error {
	var resp struct {
		Stats []struct {
			Book         string            `json:"book"`
			PatternKey   string            `json:"pattern_key"`
			Category     string            `json:"action_category"`
			SubsetValues map[string]string `json:"scope_subset_values"`
			N            int               `json:"n"`
			MeanEdge     float64           `json:"mean_edge"`
			Variance     float64           `json:"variance"`
		} `json:"stats"`
	}
	raw, err := newAPIClient(serverAddr, 30*time.Second).do(cmd.Context(), http.MethodGet, "/api/stats", filterQuery(), nil, &resp)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(raw, resp)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BOOK\tPATTERN\tCATEGORY\tSCOPE\tN\tMEAN\tVARIANCE")
	for _, s := range resp.Stats {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%+.4f\t%.4f\n",
			s.Book, s.PatternKey, s.Category, formatStrings(s.SubsetValues), s.N, s.MeanEdge, s.Variance)
	}
	_ = w.Flush()
	return nil
}

func formatStrings(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ",")
}

func formatFloats(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.3f", k, m[k])
	}
	return strings.Join(parts, ",")
}
