package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hydrokb/resolver/internal/config"
	"github.com/hydrokb/resolver/internal/logger"
	"github.com/hydrokb/resolver/knowledgebase"
	"github.com/hydrokb/resolver/pipeline"
	"github.com/hydrokb/resolver/rules"
)

type options struct {
	configPath   string
	kbFile       string
	scenarioFile string
	set          []string
	processes    []string
	existingData []string
	purpose      string
	output       string
	trace        bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a modelling scenario into an ordered component pipeline",
		Long: `resolve evaluates the process and algorithm rules of a YAML knowledge base
against a scenario and prints the first compatible, acyclic component pipeline.

Conditions come from a scenario file, from --set flags, or both (flags win).`,
		Example: `  resolve --kb basin.yaml --set "time step=day" --set "climate input=P,TMAX,TMIN"
  resolve --kb basin.yaml --scenario scenario.yaml --output yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			return logger.Configure(cfg.Log.Level, cfg.Log.ErrorSampleRate)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("RESOLVER_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.kbFile, "kb", "", "knowledge base YAML file (defaults to kb.file / RESOLVER_KB_FILE)")

	flags := root.Flags()
	flags.StringVarP(&opts.scenarioFile, "scenario", "f", "", "YAML scenario file with conditions, processes, existingData and purpose")
	flags.StringArrayVarP(&opts.set, "set", "s", nil, `scenario condition as "name=value", repeatable`)
	flags.StringSliceVarP(&opts.processes, "process", "p", nil, "pre-selected process, repeatable")
	flags.StringSliceVarP(&opts.existingData, "data", "d", nil, "data available before the simulation, repeatable")
	flags.StringVar(&opts.purpose, "purpose", "", "simulation purpose recorded on the pipeline")
	flags.StringVarP(&opts.output, "output", "o", "json", "output format: json or yaml")
	flags.BoolVar(&opts.trace, "trace", false, "include every rule evaluation in the output")

	root.AddCommand(newValidateCmd(opts))
	return root
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a knowledge base file and report rules that fail to compile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
}

func runResolve(ctx context.Context, out io.Writer, opts *options) error {
	if opts.output != "json" && opts.output != "yaml" {
		return fmt.Errorf("unknown output format %q (use json or yaml)", opts.output)
	}

	req, err := buildRequest(opts)
	if err != nil {
		return err
	}
	if err := knowledgebase.ValidateScenario(req.Conditions, req.ExistingData); err != nil {
		return err
	}

	kb, err := loadKnowledgeBase(ctx, opts)
	if err != nil {
		return err
	}

	p, err := kb.Resolver.Resolve(ctx, req)
	if err != nil {
		return err
	}
	if !opts.trace {
		p.Trace = nil
	}

	return write(out, opts.output, p)
}

func runValidate(ctx context.Context, out io.Writer, opts *options) error {
	kb, err := loadKnowledgeBase(ctx, opts)
	if err != nil {
		return err
	}

	failed := kb.Engine().CompileErrors()
	fmt.Fprintf(out, "knowledge base %s: %d rules, %d algorithms\n", kb.Name, kb.RuleCount, kb.Resolver.Algorithms().Len())
	if len(failed) == 0 {
		fmt.Fprintln(out, "all rules compiled")
		return nil
	}

	ids := make([]string, 0, len(failed))
	for id := range failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  %s: %v\n", id, failed[id])
	}
	return fmt.Errorf("%d rules failed to compile", len(failed))
}

// loadKnowledgeBase registers the knowledge base file with the configured resolver settings
func loadKnowledgeBase(ctx context.Context, opts *options) (*knowledgebase.KnowledgeBase, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	path := opts.kbFile
	if path == "" {
		path = cfg.KnowledgeBase.File
	}
	if path == "" {
		return nil, fmt.Errorf("a knowledge base file is required, use --kb or RESOLVER_KB_FILE")
	}

	m := knowledgebase.NewManager(nil, knowledgebase.Options{
		Cache: rules.CacheConfig{TTL: cfg.Resolver.CacheTTL},
		Resolver: []pipeline.Option{
			pipeline.WithMaxCombinations(cfg.Resolver.MaxCombinations),
			pipeline.WithWorkers(cfg.Resolver.Workers),
			pipeline.WithExemptComponents(cfg.Resolver.ExemptComponents),
			pipeline.WithDataKeys(cfg.Resolver.DataKeys),
		},
	})
	return m.RegisterFile(ctx, path)
}

// buildRequest merges the scenario file with the command line flags
func buildRequest(opts *options) (pipeline.Request, error) {
	var req pipeline.Request
	if opts.scenarioFile != "" {
		data, err := os.ReadFile(opts.scenarioFile)
		if err != nil {
			return req, fmt.Errorf("failed to read scenario: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, fmt.Errorf("failed to parse scenario %s: %w", opts.scenarioFile, err)
		}
	}
	if req.Conditions == nil {
		req.Conditions = make(map[string]string, len(opts.set))
	}

	for _, kv := range opts.set {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return req, fmt.Errorf("invalid --set %q, expected name=value", kv)
		}
		req.Conditions[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	req.Processes = append(req.Processes, opts.processes...)
	req.ExistingData = append(req.ExistingData, opts.existingData...)
	if opts.purpose != "" {
		req.Purpose = opts.purpose
	}

	if len(req.Conditions) == 0 && len(req.Processes) == 0 {
		return req, fmt.Errorf("no scenario given, use --scenario or --set")
	}
	return req, nil
}

func write(out io.Writer, format string, p *pipeline.Pipeline) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("failed to encode pipeline: %w", err)
		}
		return enc.Close()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
