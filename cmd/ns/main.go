package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"namesweep/internal/aggregate"
	"namesweep/internal/client"
	"namesweep/internal/config"
	"namesweep/internal/db"
	"namesweep/internal/engine"
	"namesweep/internal/events"
	"namesweep/internal/metrics"
	"namesweep/internal/migrate"
	"namesweep/internal/server"
	"namesweep/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "ns",
	Short: "Namesweep CLI",
	Long: `Namesweep sweeps an autocomplete lookup API for every name reachable by
1- and 2-character queries, one paced request at a time. Progress is
checkpointed in the workspace, so an interrupted sweep resumes exactly
where it left off; results are deduplicated into one name set per API
version.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("NAMESWEEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/namesweep.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(namesCmd())
	rootCmd.AddCommand(versionsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func runCmd() *cobra.Command {
	var version, metricsAddr string
	var fresh, retryFailed bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run (or resume) a sweep for one API version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			spec, err := cfg.Spec(version)
			if err != nil {
				return err
			}
			env, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer env.Close()

			if fresh {
				if err := env.Store.Reset(cmd.Context(), version); err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}
			if retryFailed {
				if err := env.Store.DropFailed(cmd.Context(), version); err != nil {
					return err
				}
			}

			var met *metrics.Metrics
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				met = metrics.New(reg)
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				go func() {
					_ = http.ListenAndServe(metricsAddr, mux)
				}()
			}

			cl := client.New(cfg.API.BaseURL, version)
			cl.Timeout = cfg.Timeout()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := engine.Runner{
				Spec:            spec,
				Store:           env.Store,
				Fetch:           cl,
				Events:          env.Events,
				Metrics:         met,
				CheckpointEvery: cfg.CheckpointEvery,
			}
			state, err := runner.Run(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					fmt.Println("interrupted; progress saved, rerun to resume")
					return nil
				}
				return err
			}

			agg := aggregate.FromState(state)
			outPath := filepath.Join(viper.GetString("workspace"), version+"_names.json")
			if err := writeExport(agg, version, outPath, false); err != nil {
				return err
			}
			summary := map[string]any{
				"version":   version,
				"completed": len(state.Completed),
				"failed":    state.FailedCount(),
				"names":     len(agg),
				"output":    outPath,
			}
			if viper.GetBool("json") {
				return printJSON(summary)
			}
			fmt.Printf("Sweep complete: %d queries, %d failed, %d names -> %s\n",
				len(state.Completed), state.FailedCount(), len(agg), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "API version to sweep (e.g. v1)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "discard prior progress and start over")
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "re-attempt queries that exhausted retries")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose prometheus metrics on this address during the run")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sweep progress per version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			env, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer env.Close()
			runs, err := env.Store.Runs(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(runs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Version", "Status", "Completed", "Total", "Failed", "Names", "Last saved"})
			for _, r := range runs {
				results, err := env.Store.Results(cmd.Context(), r.Version)
				if err != nil {
					return err
				}
				agg := aggregate.FromResults(results)
				tw.AppendRow(table.Row{r.Version, r.Status, r.Completed, r.Total, r.Failed, len(agg), r.LastSaved})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func namesCmd() *cobra.Command {
	var version, out string
	var provenance bool
	cmd := &cobra.Command{
		Use:   "names",
		Short: "Export the deduplicated name set for a version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			env, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer env.Close()
			results, err := env.Store.Results(cmd.Context(), version)
			if err != nil {
				return err
			}
			agg := aggregate.FromResults(results)
			if out != "" {
				if err := writeExport(agg, version, out, provenance); err != nil {
					return err
				}
				fmt.Printf("Wrote %d names to %s\n", len(agg), out)
				return nil
			}
			return printJSON(agg.ExportFor(version, time.Now(), provenance))
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "API version")
	cmd.Flags().StringVar(&out, "out", "", "write export to this file instead of stdout")
	cmd.Flags().BoolVar(&provenance, "provenance", false, "include the queries that produced each name")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func versionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List configured API versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg.Versions)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Version", "Alphabet", "Max len", "Min delay", "Max results", "Queries"})
			for _, name := range cfg.VersionNames() {
				spec, err := cfg.Spec(name)
				if err != nil {
					return err
				}
				n := len([]rune(spec.Alphabet))
				total := n
				if spec.MaxLength >= 2 {
					total += n * n
				}
				tw.AppendRow(table.Row{name, spec.Alphabet, spec.MaxLength, spec.MinDelay, spec.MaxResults, total})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Run event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var version, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail run events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			env, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer env.Close()
			if env.Events == nil {
				return fmt.Errorf("event log requires the sqlite store backend")
			}
			items, err := env.Events.Latest(cmd.Context(), n, version, evtType)
			if err != nil {
				return err
			}
			return printJSONOrTable(items)
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&version, "version", "", "version filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect or generate configuration",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default namesweep.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(validationResult(err))
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			env, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer env.Close()
			handler, err := server.New(server.Config{Store: env.Store, Conf: cfg, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving status API on http://%s%s (metrics at /metrics)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

// storeEnv bundles the opened store with its optional sqlite handles.
type storeEnv struct {
	Store  store.Store
	Events *events.Writer
	conn   *sql.DB
}

func (e *storeEnv) Close() error {
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func openStore(cfg *config.Config) (*storeEnv, error) {
	workspace := viper.GetString("workspace")
	if cfg.Store.Backend == config.BackendFile {
		dir := filepath.Join(workspace, ".namesweep", "checkpoints")
		return &storeEnv{Store: store.NewFile(dir)}, nil
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &storeEnv{
		Store:  store.NewSQLite(conn),
		Events: &events.Writer{DB: conn},
		conn:   conn,
	}, nil
}

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func writeExport(agg aggregate.Aggregate, version, path string, provenance bool) error {
	data, err := agg.ExportFor(version, time.Now(), provenance).MarshalIndent()
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func validationResult(err error) map[string]any {
	out := map[string]any{"ok": err == nil}
	if err != nil {
		out["error"] = err.Error()
	}
	return out
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
