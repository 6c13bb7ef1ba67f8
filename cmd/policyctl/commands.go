package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/config"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var Version = "dev"

type rootOptions struct {
	policyFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "policyctl",
		Short:         "Inspect rate limit policy files",
		Long:          "Validate a policy file, see which rule and policies apply to a request, or dump the effective configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.policyFile, "file", "f", "policies.yaml", "Policy file (YAML)")

	rootCmd.AddCommand(
		validateCmd(opts),
		matchCmd(opts),
		dumpCmd(opts),
		versionCmd(),
	)
	return rootCmd
}

func loadRegistry(opts *rootOptions) (*domain.Registry, error) {
	pf, err := config.LoadPolicyFile(opts.policyFile)
	if err != nil {
		return nil, err
	}
	return config.BuildRegistry(pf)
}

func validateCmd(opts *rootOptions) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a policy file",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			engineOpts := []application.EngineOption{application.WithAlgorithmValidation()}
			if strict {
				engineOpts = append(engineOpts, application.WithStrictPolicyReferences())
			}
			dispatcher := application.NewDispatcher(infra.NewFixedWindow(infra.NewMemoryStore[int64]()))
			if _, err := application.NewEngine(reg, dispatcher, engineOpts...); err != nil {
				return err
			}

			for _, name := range reg.MissingReferences() {
				fmt.Fprintf(out, "warning: unknown policy %q is referenced and will be skipped\n", name)
			}
			_, hasGlobal := reg.GlobalPolicy()
			fmt.Fprintf(out, "ok: %d policies, %d endpoints, global=%v\n", len(reg.Policies()), len(reg.Endpoints()), hasGlobal)
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat unknown policy references as errors")
	return cmd
}

func matchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "match [method] [path]",
		Short: "Show the rule and policies applied to a request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(opts)
			if err != nil {
				return err
			}

			method := strings.ToUpper(args[0])
			rule, ok, err := reg.Match(method, args[1])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tPOLICY\tLIMIT\tKEY")
			fmt.Fprintln(w, "-----\t------\t-----\t---")

			order := 1
			if g, ok := reg.GlobalPolicy(); ok {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", order, "(global)", g.RateLimit, describeKey(g))
				order++
			}
			if ok {
				for _, name := range rule.Policies() {
					p, found := reg.Policy(name)
					if !found {
						fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", order, name, "-", "unknown, skipped")
					} else {
						fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", order, p.Name, p.RateLimit, describeKey(p))
					}
					order++
				}
			}
			w.Flush()

			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "no endpoint rule matches %s %s\n", method, args[1])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rule: %s %s\n", rule.Method(), rule.Path())
			return nil
		},
	}
}

func dumpCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration with defaults applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(opts)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(config.FromRegistry(reg)); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "policyctl %s\n", Version)
		},
	}
}

func describeKey(p domain.Policy) string {
	if p.Type == domain.PolicyTypeClientID {
		return "header " + p.ClientIdentifier.Header
	}
	return "client address"
}
