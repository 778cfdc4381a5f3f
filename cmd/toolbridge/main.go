// Command toolbridge is both sides of the bridge: `toolbridge serve` hosts
// the built-in tools over stdin/stdout, and the client subcommands spawn a
// peer and drive it.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	toolbridge "github.com/machinefabric/toolbridge-go"
	"github.com/machinefabric/toolbridge-go/bundle"
	"github.com/machinefabric/toolbridge-go/config"
	"github.com/machinefabric/toolbridge-go/kvstore"
	"github.com/machinefabric/toolbridge-go/plan"
	"github.com/machinefabric/toolbridge-go/toolkit"
)

var (
	cfgPath string
	cfg     config.Config
	log     zerolog.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "toolbridge",
		Short:         "Tool bridge: host tools over stdio or drive a tool-hosting peer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}
			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			// Logs go to stderr; stdout belongs to the protocol and to
			// command output.
			log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).With().Timestamp().Logger()
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to a TOML config file")

	root.AddCommand(serveCmd(), opsCmd(), callCmd(), planCmd(), watchCmd(), alertCmd(), bundleCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Host the built-in tools on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := kvstore.NewFileStore(cfg.StatePath)
			if err != nil {
				return err
			}
			registry := toolkit.NewRegistry()
			env, err := toolkit.NewEnv(cfg.SandboxRoot, cfg.ArtifactsDir, store, registry,
				toolkit.WithEnvLogger(log), toolkit.WithReadMaxBytes(cfg.ReadMaxBytes))
			if err != nil {
				return err
			}
			if err := toolkit.RegisterBuiltin(registry, env); err != nil {
				return err
			}
			log.Info().Str("sandbox", cfg.SandboxRoot).Msg("serving tools on stdio")
			rt := toolkit.NewRuntime(registry, os.Stdin, os.Stdout, toolkit.WithRuntimeLogger(log))
			return rt.Serve(cmd.Context())
		},
	}
}

// connect spawns the configured peer and hands back the bridge plus a
// closer.
func connect() (*toolbridge.Bridge, func(), error) {
	bridge, err := toolbridge.SpawnBridge(cfg.ServerCommand, toolbridge.WithBridgeLogger(log))
	if err != nil {
		return nil, nil, err
	}
	return bridge, func() { _ = bridge.Close() }, nil
}

func opsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the operations the peer exposes",
		RunE: func(cmd *cobra.Command, args []string) error {
			bridge, done, err := connect()
			if err != nil {
				return err
			}
			defer done()

			ops, err := bridge.ListOperations(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Stringer("handshake", bridge.HandshakeState()).Int("count", len(ops)).Msg("peer listed operations")
			for _, op := range ops {
				fmt.Printf("%-24s %s\n", op.Name, op.Description)
			}
			return nil
		},
	}
}

func callCmd() *cobra.Command {
	var argsJSON string
	var skipValidate bool
	cmd := &cobra.Command{
		Use:   "call <operation>",
		Short: "Invoke one operation on the peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var callArgs map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &callArgs); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}

			bridge, done, err := connect()
			if err != nil {
				return err
			}
			defer done()

			if !skipValidate {
				ops, err := bridge.ListOperations(cmd.Context())
				if err != nil {
					return err
				}
				for i := range ops {
					if ops[i].Name == args[0] {
						if err := ops[i].ValidateArguments(callArgs); err != nil {
							return fmt.Errorf("arguments rejected: %w", err)
						}
						break
					}
				}
			}

			res, err := bridge.Invoke(cmd.Context(), args[0], callArgs)
			if err != nil {
				return err
			}
			if res.IsError() {
				return fmt.Errorf("operation failed: %s", res.Text)
			}
			fmt.Println(res.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&argsJSON, "args", "a", "", "operation arguments as a JSON object")
	cmd.Flags().BoolVar(&skipValidate, "no-validate", false, "skip schema validation before calling")
	return cmd
}

// planFile is the YAML shape `plan run -f` reads.
type planFile struct {
	Steps   []plan.Step    `yaml:"steps"`
	Seed    map[string]any `yaml:"seed"`
	SaveKey string         `yaml:"save_key"`
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Run multi-step tool workflows",
	}

	var file string
	var saveKey string
	run := &cobra.Command{
		Use:   "run",
		Short: "Execute the steps in a YAML plan file against the peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var pf planFile
			if err := yaml.Unmarshal(data, &pf); err != nil {
				return fmt.Errorf("parse plan file: %w", err)
			}
			if len(pf.Steps) == 0 {
				return fmt.Errorf("plan file has no steps")
			}
			if saveKey != "" {
				pf.SaveKey = saveKey
			}

			bridge, done, err := connect()
			if err != nil {
				return err
			}
			defer done()

			store, err := kvstore.NewFileStore(cfg.StatePath)
			if err != nil {
				return err
			}
			exec := plan.NewExecutor(bridge, plan.WithStore(store), plan.WithExecutorLogger(log))
			report, err := exec.Run(cmd.Context(), pf.Steps, pf.Seed, pf.SaveKey)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	run.Flags().StringVarP(&file, "file", "f", "", "YAML plan file")
	_ = run.MarkFlagRequired("file")
	run.Flags().StringVar(&saveKey, "save-key", "", "store the report under this key")

	cmd.AddCommand(run)
	return cmd
}

func watchCmd() *cobra.Command {
	var intervalSec, iterations, maxBytes int
	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Poll a file for changes through the peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bridge, done, err := connect()
			if err != nil {
				return err
			}
			defer done()

			res, err := bridge.Invoke(cmd.Context(), "watch_file_poll", map[string]any{
				"path":         args[0],
				"interval_sec": intervalSec,
				"iterations":   iterations,
				"max_bytes":    maxBytes,
			})
			if err != nil {
				return err
			}
			if res.IsError() {
				return fmt.Errorf("watch failed: %s", res.Text)
			}
			fmt.Println(res.String())
			return nil
		},
	}
	cmd.Flags().IntVar(&intervalSec, "interval", 2, "seconds between polls")
	cmd.Flags().IntVar(&iterations, "iterations", 3, "number of polls")
	cmd.Flags().IntVar(&maxBytes, "max-bytes", 0, "per-pass read cap (0 uses the peer default)")
	return cmd
}

func alertCmd() *cobra.Command {
	var pattern, comparator string
	var threshold, maxBytes int
	cmd := &cobra.Command{
		Use:   "alert <path>",
		Short: "Scan new file bytes against a threshold rule through the peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bridge, done, err := connect()
			if err != nil {
				return err
			}
			defer done()

			res, err := bridge.Invoke(cmd.Context(), "alert_track_and_save", map[string]any{
				"path":       args[0],
				"pattern":    pattern,
				"threshold":  threshold,
				"comparator": comparator,
				"max_bytes":  maxBytes,
			})
			if err != nil {
				return err
			}
			if res.IsError() {
				return fmt.Errorf("alert failed: %s", res.Text)
			}
			fmt.Println(res.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "regular expression to count")
	_ = cmd.MarkFlagRequired("pattern")
	cmd.Flags().IntVar(&threshold, "threshold", 1, "match count threshold")
	cmd.Flags().StringVar(&comparator, "comparator", ">=", "one of >= > == <= <")
	cmd.Flags().IntVar(&maxBytes, "max-bytes", 0, "read cap (0 uses the peer default)")
	return cmd
}

func bundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Export and inspect state bundles",
	}

	var prefix string
	export := &cobra.Command{
		Use:   "export <path>",
		Short: "Snapshot local state and artifacts into a bundle file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := kvstore.NewFileStore(cfg.StatePath)
			if err != nil {
				return err
			}
			b, err := bundle.Snapshot(store, prefix, cfg.ArtifactsDir)
			if err != nil {
				return err
			}
			if err := b.Export(args[0]); err != nil {
				return err
			}
			log.Info().Str("id", b.Id).Int("keys", len(b.Keys)).
				Int("artifacts", len(b.Artifacts)).Msg("bundle exported")
			fmt.Println(args[0])
			return nil
		},
	}
	export.Flags().StringVar(&prefix, "prefix", "", "only export keys with this prefix")

	show := &cobra.Command{
		Use:   "show <path>",
		Short: "Print a bundle's id, keys and artifact names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bundle.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("id: %s\ncreated: %s\nkeys: %d\nartifacts: %d\n",
				b.Id, b.CreatedAt.Format(time.RFC3339), len(b.Keys), len(b.Artifacts))
			for k := range b.Keys {
				fmt.Println("  key:", k)
			}
			for _, a := range b.Artifacts {
				fmt.Printf("  artifact: %s (%d bytes)\n", a.Name, len(a.Data))
			}
			return nil
		},
	}

	restore := &cobra.Command{
		Use:   "restore <path>",
		Short: "Write a bundle's keys and artifacts back into local state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bundle.Load(args[0])
			if err != nil {
				return err
			}
			store, err := kvstore.NewFileStore(cfg.StatePath)
			if err != nil {
				return err
			}
			if err := b.Restore(store, cfg.ArtifactsDir); err != nil {
				return err
			}
			log.Info().Str("id", b.Id).Msg("bundle restored")
			return nil
		},
	}

	cmd.AddCommand(export, show, restore)
	return cmd
}

func printJSON(v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}
