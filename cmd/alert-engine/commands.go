package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"predixaai-alert-engine/internal/config"
	"predixaai-alert-engine/internal/crypto"
	"predixaai-alert-engine/internal/logging"
	"predixaai-alert-engine/internal/rules"
	"predixaai-alert-engine/internal/silence"
	"predixaai-alert-engine/internal/storage"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "alert-engine",
		Short:        "Evaluate alerts against rules, silences and outbound actions",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to alert-engine.yaml")

	rulesCmd := &cobra.Command{Use: "rules", Short: "Inspect and load alert rules"}
	rulesCmd.AddCommand(newRulesValidateCmd(), newRulesImportCmd(opts), newRulesShowCmd(opts))

	silenceCmd := &cobra.Command{Use: "silence", Short: "Silence helpers"}
	silenceCmd.AddCommand(newParseDurationCmd())

	secretCmd := &cobra.Command{Use: "secret", Short: "Manage encrypted configuration values"}
	secretCmd.AddCommand(newSecretEncryptCmd(opts))

	root.AddCommand(newServeCmd(opts), rulesCmd, silenceCmd, secretCmd)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the NATS alert consumer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx)
		},
	}
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check every rule in a YAML rules file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readRuleDocuments(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			invalid := 0
			for i, doc := range docs {
				problems := rules.ValidateRule(doc)
				if len(problems) == 0 {
					continue
				}
				invalid++
				for _, p := range problems {
					fmt.Fprintf(out, "rule %d (%v): %s\n", i, ruleLabel(doc), p)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d rules are invalid", invalid, len(docs))
			}
			fmt.Fprintf(out, "%d rules ok\n", len(docs))
			return nil
		},
	}
}

func newRulesImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Validate a YAML rules file and upsert it into the postgres rule store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readRuleDocuments(args[0])
			if err != nil {
				return err
			}
			for i, doc := range docs {
				if problems := rules.ValidateRule(doc); len(problems) > 0 {
					return fmt.Errorf("rule %d (%v): %s", i, ruleLabel(doc), problems[0])
				}
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is required to import rules")
			}
			ctx := cmd.Context()
			store, err := storage.NewStore(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer store.Close()
			repo := storage.NewRuleRepository(store)
			for i, doc := range docs {
				if err := repo.UpsertRule(ctx, rules.FromMap(doc), i); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules\n", len(docs))
			return nil
		},
	}
}

func newRulesShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one rule from the postgres rule store as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is required to show rules")
			}
			ctx := cmd.Context()
			store, err := storage.NewStore(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer store.Close()
			rule, err := storage.NewRuleRepository(store).GetRule(ctx, args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("rule %q not found", args[0])
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rule)
		},
	}
}

func newParseDurationCmd() *cobra.Command {
	var maxDays int
	cmd := &cobra.Command{
		Use:   "parse-duration <text>",
		Short: "Print the number of seconds a silence duration such as 30m, 2h or 1d stands for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, ok := silence.ParseDurationToSeconds(args[0], maxDays)
			if !ok {
				return fmt.Errorf("invalid duration %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatInt(seconds, 10))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxDays, "max-days", 7, "cap in days, 0 for no cap")
	return cmd
}

func newSecretEncryptCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <plain>",
		Short: "Encrypt a value with ALERTENGINE_ENCRYPTION_KEY for use in the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			enc, err := cfg.Encryptor()
			if err != nil {
				return err
			}
			if enc == nil {
				return errors.New(config.EnvPrefix + "_ENCRYPTION_KEY is not set")
			}
			sealed, err := crypto.Seal(enc, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}

func readRuleDocuments(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return rules.DecodeDocuments(data)
}

func ruleLabel(doc map[string]any) any {
	if id, ok := doc["rule_id"]; ok {
		return id
	}
	if id, ok := doc["id"]; ok {
		return id
	}
	return "no id"
}
