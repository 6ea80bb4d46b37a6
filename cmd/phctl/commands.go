package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lioarce01/prompt-version-hub/pkg/client"
)

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in and store the access token in the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := os.Getenv("PHCTL_PASSWORD")
		if password == "" {
			return errors.New("set PHCTL_PASSWORD")
		}
		pair, err := newClient().Login(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		path, err := saveToken(pair.AccessToken)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "token saved to %s\n", path)
		return nil
	},
}

var promptsCmd = &cobra.Command{
	Use:     "prompts",
	Aliases: []string{"p"},
	Short:   "Prompt version commands",
}

// templateArg reads --template, or --file when given.
func templateArg(cmd *cobra.Command) (string, error) {
	file, _ := cmd.Flags().GetString("file")
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read template: %w", err)
		}
		return string(b), nil
	}
	tpl, _ := cmd.Flags().GetString("template")
	if tpl == "" {
		return "", errors.New("--template or --file is required")
	}
	return tpl, nil
}

func addTemplateFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("template", "t", "", "template text")
	cmd.Flags().StringP("file", "f", "", "read the template from a file")
	cmd.Flags().StringSlice("var", nil, "declared variable (repeatable)")
}

var promptCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create version 1 of a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tpl, err := templateArg(cmd)
		if err != nil {
			return err
		}
		vars, _ := cmd.Flags().GetStringSlice("var")
		v, err := newClient().CreatePrompt(cmd.Context(), client.CreatePrompt{Name: args[0], Template: tpl, Variables: vars})
		if err != nil {
			return err
		}
		return output(v)
	},
}

var promptUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Append a new active version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tpl, err := templateArg(cmd)
		if err != nil {
			return err
		}
		vars, _ := cmd.Flags().GetStringSlice("var")
		v, err := newClient().UpdatePrompt(cmd.Context(), args[0], client.UpdatePrompt{Template: tpl, Variables: vars})
		if err != nil {
			return err
		}
		return output(v)
	},
}

var promptGetCmd = &cobra.Command{
	Use:   "get <name> [version]",
	Short: "Show the active version, or a specific one",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if len(args) == 1 {
			v, err := c.GetPrompt(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return output(v)
		}
		version, err := versionArg(args[1])
		if err != nil {
			return err
		}
		v, err := c.GetVersion(cmd.Context(), args[0], version)
		if err != nil {
			return err
		}
		return output(v)
	},
}

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompts visible to you",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		var opts client.ListOptions
		opts.Scope, _ = f.GetString("scope")
		opts.Query, _ = f.GetString("query")
		opts.LatestOnly, _ = f.GetBool("latest")
		opts.Limit, _ = f.GetInt("limit")
		opts.Offset, _ = f.GetInt("offset")
		page, err := newClient().ListPrompts(cmd.Context(), opts)
		if err != nil {
			return err
		}
		return output(page)
	},
}

var promptVersionsCmd = &cobra.Command{
	Use:   "versions <name>",
	Short: "List every version of a prompt, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := newClient().ListVersions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(page)
	},
}

var promptRollbackCmd = &cobra.Command{
	Use:   "rollback <name> <version>",
	Short: "Republish an earlier version as a new active version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := versionArg(args[1])
		if err != nil {
			return err
		}
		v, err := newClient().Rollback(cmd.Context(), args[0], version)
		if err != nil {
			return err
		}
		return output(v)
	},
}

var promptDiffCmd = &cobra.Command{
	Use:   "diff <name> <from> <to>",
	Short: "Print a unified diff between two versions",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := versionArg(args[1])
		if err != nil {
			return err
		}
		to, err := versionArg(args[2])
		if err != nil {
			return err
		}
		d, err := newClient().Diff(cmd.Context(), args[0], from, to)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), d.Diff)
		return nil
	},
}

var promptVisibilityCmd = &cobra.Command{
	Use:       "visibility <name> public|private",
	Short:     "Share or unshare every version of a prompt",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"public", "private"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var public bool
		switch args[1] {
		case "public":
			public = true
		case "private":
		default:
			return fmt.Errorf("visibility must be public or private, got %q", args[1])
		}
		v, err := newClient().SetVisibility(cmd.Context(), args[0], public)
		if err != nil {
			return err
		}
		return output(v)
	},
}

var promptCloneCmd = &cobra.Command{
	Use:   "clone <source> <new-name>",
	Short: "Copy the active version of a prompt under a new name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := newClient().Clone(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return output(v)
	},
}

var promptRenderCmd = &cobra.Command{
	Use:   "render <name>",
	Short: "Fill a version with variables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetInt("version")
		vars, _ := cmd.Flags().GetStringToString("set")
		out, err := newClient().Render(cmd.Context(), args[0], version, vars)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Rendered)
		return nil
	},
}

var promptDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete every version of a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := newClient().DeletePrompt(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(map[string]any{"name": args[0], "deleted_versions": n})
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy <name> <version> <environment>",
	Short: "Deploy a version to an environment",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := versionArg(args[1])
		if err != nil {
			return err
		}
		d, err := newClient().Deploy(cmd.Context(), args[0], version, args[2])
		if err != nil {
			return err
		}
		return output(d)
	},
}

var deploymentsCmd = &cobra.Command{
	Use:   "deployments <environment>",
	Short: "Show the current deployment, or the history with --history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if history, _ := cmd.Flags().GetBool("history"); history {
			limit, _ := cmd.Flags().GetInt("limit")
			page, err := c.DeploymentHistory(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return output(page)
		}
		d, err := c.CurrentDeployment(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(d)
	},
}

var experimentsCmd = &cobra.Command{
	Use:     "experiments",
	Aliases: []string{"ab"},
	Short:   "A/B experiment commands",
}

var policyCmd = &cobra.Command{
	Use:   "policy <name>",
	Short: "Set the traffic weights of a prompt's experiment",
	Long: `Set the traffic weights of a prompt's experiment.

  phctl experiments policy greet --weight 1=30 --weight 2=70`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringToInt("weight")
		if len(raw) == 0 {
			return errors.New("at least one --weight version=weight is required")
		}
		weights := make(map[int]int, len(raw))
		for k, w := range raw {
			v, err := versionArg(k)
			if err != nil {
				return err
			}
			weights[v] = w
		}
		public, _ := cmd.Flags().GetBool("public")
		p, err := newClient().SetPolicy(cmd.Context(), args[0], weights, public)
		if err != nil {
			return err
		}
		return output(p)
	},
}

var assignCmd = &cobra.Command{
	Use:   "assign <experiment> <name> <subject>",
	Short: "Resolve the version a subject sees",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newClient().Assign(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		return output(a)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <experiment>",
	Short: "Show assignment counts per version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newClient().ExperimentStats(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(s)
	},
}

var testsCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Run a prompt's test suite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetInt("version")
		rawIDs, _ := cmd.Flags().GetStringSlice("case")
		ids := make([]uuid.UUID, 0, len(rawIDs))
		for _, s := range rawIDs {
			id, err := uuid.Parse(s)
			if err != nil {
				return fmt.Errorf("invalid case id %q: %w", s, err)
			}
			ids = append(ids, id)
		}
		res, err := newClient().RunTests(cmd.Context(), args[0], version, ids)
		if err != nil {
			return err
		}
		if err := output(res); err != nil {
			return err
		}
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d test runs failed", res.Failed, res.Count)
		}
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage <name>",
	Short: "Record one execution of a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		req := client.RecordUsage{PromptName: args[0]}
		req.Version, _ = f.GetInt("version")
		if f.Changed("success") {
			ok, _ := f.GetBool("success")
			req.Success = &ok
		}
		if f.Changed("latency-ms") {
			ms, _ := f.GetInt("latency-ms")
			req.LatencyMs = &ms
		}
		if f.Changed("cost") {
			cost, _ := f.GetFloat64("cost")
			req.Cost = &cost
		}
		if subject, _ := f.GetString("subject"); subject != "" {
			req.SubjectID = &subject
		}
		ev, err := newClient().RecordUsage(cmd.Context(), req)
		if err != nil {
			return err
		}
		return output(ev)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show hub-wide counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newClient().Summary(cmd.Context())
		if err != nil {
			return err
		}
		return output(s)
	},
}

func versionArg(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}

func init() {
	addTemplateFlags(promptCreateCmd)
	addTemplateFlags(promptUpdateCmd)

	promptListCmd.Flags().String("scope", "", "all, public, private or owned")
	promptListCmd.Flags().StringP("query", "q", "", "search names and templates")
	promptListCmd.Flags().Bool("latest", false, "only the newest version of each prompt")
	promptListCmd.Flags().Int("limit", 0, "page size")
	promptListCmd.Flags().Int("offset", 0, "page offset")

	promptRenderCmd.Flags().Int("version", 0, "version to render (default: active)")
	promptRenderCmd.Flags().StringToString("set", nil, "variable value, e.g. --set name=Ana")

	promptsCmd.AddCommand(promptCreateCmd, promptUpdateCmd, promptGetCmd, promptListCmd, promptVersionsCmd,
		promptRollbackCmd, promptDiffCmd, promptVisibilityCmd, promptCloneCmd, promptRenderCmd, promptDeleteCmd)

	deploymentsCmd.Flags().Bool("history", false, "list past deployments")
	deploymentsCmd.Flags().Int("limit", 0, "history page size")

	policyCmd.Flags().StringToInt("weight", nil, "version=weight (repeatable)")
	policyCmd.Flags().Bool("public", false, "let other users assign against this policy")
	experimentsCmd.AddCommand(policyCmd, assignCmd, statsCmd)

	testsCmd.Flags().Int("version", 0, "version to test (default: active)")
	testsCmd.Flags().StringSlice("case", nil, "only run these case IDs")

	usageCmd.Flags().Int("version", 0, "version used (default: active)")
	usageCmd.Flags().String("subject", "", "end-user ID")
	usageCmd.Flags().Bool("success", true, "whether the execution succeeded")
	usageCmd.Flags().Int("latency-ms", 0, "latency in milliseconds")
	usageCmd.Flags().Float64("cost", 0, "cost of the execution")
}
