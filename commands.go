package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Sensemaking-core/server/internal/agent/graph"
	"github.com/Sensemaking-core/server/internal/agent/model"
	"github.com/Sensemaking-core/server/internal/core"
	errx "github.com/Sensemaking-core/server/internal/core/error"
	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

const defaultInstructions = "Answer in a short paragraph."

type output struct {
	json    bool
	verbose bool
}

func (o output) print(w io.Writer, res *model.Result) error {
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if o.verbose {
		fmt.Fprintf(w, "Session: %s\n", res.SessionID)
		fmt.Fprintf(w, "Steps: %s\n", strings.Join(res.StepHistory, " -> "))
		for _, r := range res.InformationRequests {
			fmt.Fprintf(w, "Request %s\n", r)
		}
		for _, c := range res.FunctionCalls {
			fmt.Fprintf(w, "Call %s %s\n", c.ID, model.FunctionCall{Name: c.Name, Params: c.Params})
		}
		if res.Understanding != "" {
			fmt.Fprintf(w, "Understanding:\n%s\n", strings.TrimSpace(res.Understanding))
		}
		fmt.Fprintf(w, "Usage: %d calls, %d tokens, $%.6f\n", res.Usage.Calls, res.Usage.TotalTokens, res.Usage.CostUSD)
	}
	fmt.Fprintf(w, "Answer: %s\n", res.Answer)
	return nil
}

func addOutputFlags(cmd *cobra.Command, o *output) {
	cmd.Flags().BoolVar(&o.json, "json", false, "print the full session result as JSON")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "print steps, calls and usage")
}

func verbose(cfg *AppConfig, o output) output {
	if !o.json && core.ParseEnvironment(cfg.Env).Verbose() {
		o.verbose = true
	}
	return o
}

func newAskCommand(config func() *AppConfig) *cobra.Command {
	var (
		instructions string
		out          output
	)
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Run one sensemaking session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config()
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.runner.Run(cmd.Context(), model.Query{
				Text:         strings.Join(args, " "),
				Instructions: instructions,
			})
			if err != nil {
				return err
			}
			return verbose(cfg, out).print(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&instructions, "instructions", "i", defaultInstructions, "presentation instructions")
	addOutputFlags(cmd, &out)
	return cmd
}

// batchFile is the YAML input of the batch command.
type batchFile struct {
	Instructions string       `yaml:"instructions"`
	Queries      []batchQuery `yaml:"queries"`
}

type batchQuery struct {
	Query        string `yaml:"query"`
	Instructions string `yaml:"instructions"`
}

func readBatchFile(path string) ([]model.Query, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var f batchFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode batch file: %w", err)
	}
	if f.Instructions == "" {
		f.Instructions = defaultInstructions
	}
	out := make([]model.Query, 0, len(f.Queries))
	for _, q := range f.Queries {
		if q.Instructions == "" {
			q.Instructions = f.Instructions
		}
		out = append(out, model.Query{Text: q.Query, Instructions: q.Instructions})
	}
	return out, nil
}

func newBatchCommand(config func() *AppConfig) *cobra.Command {
	var (
		concurrency int
		out         output
	)
	cmd := &cobra.Command{
		Use:   "batch <file.yaml>",
		Short: "Run every query of a YAML file as independent sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := readBatchFile(args[0])
			if err != nil {
				return err
			}
			if len(queries) == 0 {
				return fmt.Errorf("%w: no queries in %s", errx.ErrInvalidArgument, args[0])
			}

			cfg := config()
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			results, errs := runBatch(cmd.Context(), a.runner, queries, concurrency)

			o := verbose(cfg, out)
			w := cmd.OutOrStdout()
			failed := 0
			for i, res := range results {
				if errs[i] != nil {
					failed++
					logx.Error().Err(errs[i]).Int("query", i+1).Msg("Batch query failed")
					if !o.json {
						fmt.Fprintf(w, "\n[%d] %s\nFailed: %v\n", i+1, queries[i].Text, errs[i])
					}
					continue
				}
				if !o.json {
					fmt.Fprintf(w, "\n[%d] %s\n", i+1, res.Query)
				}
				if err := o.print(w, res); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d queries failed", failed, len(queries))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "sessions run at the same time")
	addOutputFlags(cmd, &out)
	return cmd
}

// runBatch runs every query as its own session. A failed query does not
// cancel the others; its error is reported at the same index.
func runBatch(ctx context.Context, runner graph.Runner, queries []model.Query, concurrency int) ([]*model.Result, []error) {
	results := make([]*model.Result, len(queries))
	errs := make([]error, len(queries))
	var g errgroup.Group
	g.SetLimit(max(concurrency, 1))
	for i, q := range queries {
		g.Go(func() error {
			results[i], errs[i] = runner.Run(ctx, q)
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

func filterDatabases(reg *registry.Registry, search, device string) []registry.DatabaseDescriptor {
	dbs := reg.ListAll()
	if search != "" {
		dbs = reg.SearchByText(search)
	}
	if device != "" {
		onDevice := reg.ListByDevice(device)
		dbs = slices.DeleteFunc(dbs, func(d registry.DatabaseDescriptor) bool {
			return !slices.ContainsFunc(onDevice, func(o registry.DatabaseDescriptor) bool { return o.Name == d.Name })
		})
	}
	return dbs
}

func printDatabases(w io.Writer, dbs []registry.DatabaseDescriptor) {
	byDevice := map[string][]registry.DatabaseDescriptor{}
	var devices []string
	for _, d := range dbs {
		if _, ok := byDevice[d.Device]; !ok {
			devices = append(devices, d.Device)
		}
		byDevice[d.Device] = append(byDevice[d.Device], d)
	}
	slices.Sort(devices)

	for _, device := range devices {
		fmt.Fprintf(w, "%s:\n", device)
		for _, d := range byDevice[device] {
			fmt.Fprintf(w, "  - %s (%d functions): %s\n", d.Name, len(d.Functions), d.Info)
		}
	}
}

func newDatabasesCommand(config func() *AppConfig) *cobra.Command {
	var search, device string
	cmd := &cobra.Command{
		Use:   "databases",
		Short: "List the available databases grouped by device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := newRegistry(config(), nil, nil)
			if err != nil {
				return err
			}
			dbs := filterDatabases(reg, search, device)
			if len(dbs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching databases.")
				return nil
			}
			printDatabases(cmd.OutOrStdout(), dbs)
			return nil
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive text search over names and descriptions")
	cmd.Flags().StringVar(&device, "device", "", "only databases recorded by this device")
	return cmd
}

func newShowCommand(config func() *AppConfig) *cobra.Command {
	var out output
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a stored session result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newStorageApp(cmd.Context(), config())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.sessions.LoadResult(cmd.Context(), args[0])
			if errors.Is(err, errx.ErrNotFound) {
				return fmt.Errorf("session %s not found or expired", args[0])
			}
			if err != nil {
				return err
			}
			out.verbose = true
			return out.print(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&out.json, "json", false, "print the full session result as JSON")
	return cmd
}

func newSeedCommand(config func() *AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <records.yaml>...",
		Short: "Import sensor records into the record store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newStorageApp(cmd.Context(), config())
			if err != nil {
				return err
			}
			defer a.Close()

			store := datastore.NewRedisStore(a.rdb)
			for _, path := range args {
				n, err := seedFile(cmd, store, path)
				if err != nil {
					return err
				}
				logx.Info().Str("file", path).Int("records", n).Msg("Imported records")
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records\n", path, n)
			}
			return nil
		},
	}
}

func seedFile(cmd *cobra.Command, store datastore.Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	batches, err := datastore.ReadBatches(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return datastore.Import(cmd.Context(), store, batches)
}
