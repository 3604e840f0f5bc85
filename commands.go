package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	lambdaruntime "github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/internal/config"
	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	"github.com/anirudhbiyani/cloud-functions/pkg/functions/authorizer"
	"github.com/anirudhbiyani/cloud-functions/pkg/functions/janitor"
	awsprovider "github.com/anirudhbiyani/cloud-functions/pkg/providers/aws"
)

// newDependencies builds what every function factory receives. The invoker
// dispatches through Lambda in "lambda" mode; otherwise the runtime runs the
// target in-process.
func newDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cloudfn.Dependencies, error) {
	awsCfg, err := awsprovider.LoadConfig(ctx, awsprovider.Options{
		Region:   cfg.AWS.Region,
		Profile:  cfg.AWS.Profile,
		Endpoint: cfg.AWS.Endpoint,
	})
	if err != nil {
		return cloudfn.Dependencies{}, err
	}
	deps := cloudfn.Dependencies{Config: cfg, Logger: logger, AWS: awsCfg}
	if cfg.Invoker.Mode == "lambda" {
		deps.Invoker = awsprovider.NewLambdaInvoker(lambda.NewFromConfig(awsCfg), cfg.Invoker.FunctionPrefix)
	}
	return deps, nil
}

func newServeCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [FUNCTION]",
		Short: "Run a function as the AWS Lambda handler",
		Long: "Run a function as the AWS Lambda handler. The function name defaults to " +
			"the CLOUDFN_FUNCTION environment variable. Asynchronous calls to other " +
			"functions always go through the Lambda API, whatever invoker.mode says.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := os.Getenv(config.EnvPrefix + "_FUNCTION")
			if len(args) == 1 {
				name = args[0]
			}
			if name == "" {
				return usageError("function name required")
			}
			if _, err := cloudfn.DefaultRegistry.Definition(cloudfn.FunctionName(name)); err != nil {
				return err
			}

			a, err := g.setup(cmd.Context(), serveInvoker)
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.Info("serving function", zap.String("function", name))
			lambdaruntime.StartWithOptions(func(ctx context.Context, payload json.RawMessage) (any, error) {
				return a.runtime.Run(ctx, cloudfn.FunctionName(name), payload)
			}, lambdaruntime.WithContext(cmd.Context()))
			return nil
		},
	}
}

// serveInvoker routes invocations through the Lambda API. A frozen execution
// environment would never finish goroutines started by the local invoker.
func serveInvoker(cfg *config.Config) {
	cfg.Invoker.Mode = "lambda"
}

func newInvokeCommand(g *globals) *cobra.Command {
	var file string
	var async bool
	cmd := &cobra.Command{
		Use:   "invoke FUNCTION",
		Short: "Invoke a function locally with a JSON payload",
		Long: "Invoke a function locally with a JSON payload read from --file, or from " +
			"stdin when --file is \"-\". Without a payload the function receives {}.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			a, err := g.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if async {
				if _, err := a.runtime.Invoke(cmd.Context(), args[0], payload, cloudfn.InvocationEvent); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Invocation of %s queued\n", args[0])
				return nil
			}

			out, err := a.runtime.Run(cmd.Context(), cloudfn.FunctionName(args[0]), payload)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Payload file (\"-\" for stdin)")
	cmd.Flags().BoolVar(&async, "async", false, "Invoke fire-and-forget and wait for completion before exiting")
	return cmd
}

func readPayload(stdin io.Reader, file string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	switch file {
	case "":
		return json.RawMessage("{}"), nil
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if !json.Valid(data) {
		return nil, usageError("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func newSweepCommand(g *globals) *cobra.Command {
	var dryRun bool
	var output string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired janitor-managed stacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			a, err := g.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			payload, _ := json.Marshal(janitor.SweepRequest{DryRun: dryRun})
			out, runErr := a.runtime.Run(cmd.Context(), cloudfn.FunctionStackSweeper, payload)
			report, ok := out.(*janitor.SweepReport)
			if !ok || report == nil {
				return runErr
			}
			if output == "json" {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				return runErr
			}
			printSweepReport(cmd.OutOrStdout(), report)
			return runErr
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report candidates without deleting them")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func printSweepReport(w io.Writer, r *janitor.SweepReport) {
	action := "DELETED"
	if r.DryRun {
		action = "WOULD DELETE"
	}
	fmt.Fprintf(w, "Evaluated %d stacks, %d expired\n", r.Evaluated, len(r.Candidates))
	if len(r.Expiring) > 0 {
		fmt.Fprintf(w, "Expiring soon: %s\n", strings.Join(r.Expiring, ", "))
	}
	if len(r.Candidates) == 0 {
		return
	}
	deleted := make(map[string]bool, len(r.Deleted))
	for _, name := range r.Deleted {
		deleted[name] = true
	}
	fmt.Fprintf(w, "%-40s %s\n", "STACK", "RESULT")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, name := range r.Candidates {
		result := "SKIPPED"
		switch {
		case r.DryRun:
			result = action
		case deleted[name]:
			result = action
		case r.Failed[name] != "":
			result = "FAILED: " + r.Failed[name]
		}
		fmt.Fprintf(w, "%-40s %s\n", truncate(name, 40), result)
	}
}

func newRecordsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect stack tracking records",
	}

	var stateFile, stackName, output string
	var expired bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List stack tracking records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			a, err := g.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			deps := a.deps
			if stateFile != "" {
				janitorCfg := *deps.Config
				janitorCfg.Janitor.TableName = ""
				janitorCfg.Janitor.StateFile = stateFile
				deps.Config = &janitorCfg
			}
			store, err := janitor.NewRecordStore(deps)
			if err != nil {
				return fmt.Errorf("failed to initialize record store: %w", err)
			}

			filter := cloudfn.ListFilter{StackName: stackName}
			if expired {
				filter.ExpiredBefore = time.Now()
			}
			recs, err := store.List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}
			return printRecords(cmd.OutOrStdout(), recs, output)
		},
	}
	list.Flags().StringVar(&stateFile, "state", "", "Read records from a local state file instead of the configured store")
	list.Flags().StringVar(&stackName, "stack", "", "Only show records for this stack name")
	list.Flags().BoolVar(&expired, "expired", false, "Only show records that have already expired")
	list.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")

	cmd.AddCommand(list)
	return cmd
}

func printRecords(w io.Writer, recs []cloudfn.JanitorRecord, output string) error {
	if output == "json" {
		return printJSON(w, recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "No records found")
		return nil
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ExpirationTime < recs[j].ExpirationTime })
	fmt.Fprintf(w, "%-40s %-20s %-8s %s\n", "STACK", "EXPIRES", "DELETES", "STACK ID")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, rec := range recs {
		fmt.Fprintf(w, "%-40s %-20s %-8d %s\n",
			truncate(rec.StackName, 40),
			rec.Expiration().Format("2006-01-02 15:04:05"),
			rec.DeleteCount,
			rec.StackID,
		)
	}
	return nil
}

func newAuthorizeCommand(g *globals) *cobra.Command {
	var token, methodARN, path string
	var simulate []string
	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Show the policy the GitHub authorizer returns for a token",
		Long: "Show the policy the GitHub authorizer returns for a token. With --simulate " +
			"the policy is also evaluated by the IAM policy simulator for each method.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" || methodARN == "" {
				return usageError("--token and --method-arn are required")
			}
			a, err := g.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			auth, err := authorizer.NewFromDependencies(cmd.Context(), a.deps)
			if err != nil {
				return err
			}
			resp, err := auth.Authorize(cmd.Context(), authorizerRequest(token, methodARN))
			if err != nil {
				return err
			}
			if len(simulate) == 0 {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			sim := authorizer.NewSimulator(awsprovider.NewPolicySimulator(iam.NewFromConfig(a.deps.AWS)))
			results, err := sim.Simulate(cmd.Context(), resp, methodARN, path, simulate)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Principal: %s\n\n", resp.PrincipalID)
			fmt.Fprintf(w, "%-70s %s\n", "RESOURCE", "DECISION")
			fmt.Fprintln(w, strings.Repeat("-", 90))
			for _, r := range results {
				fmt.Fprintf(w, "%-70s %s\n", truncate(r.Resource, 70), r.Decision)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "GitHub OAuth token")
	cmd.Flags().StringVar(&methodARN, "method-arn", "", "API Gateway method ARN of the request")
	cmd.Flags().StringSliceVar(&simulate, "simulate", nil, "HTTP methods to simulate (e.g. GET,PUT,DELETE)")
	cmd.Flags().StringVar(&path, "path", "registry", "Resource path to simulate against")
	return cmd
}

// authorizerRequest builds the TOKEN request API Gateway sends the authorizer.
func authorizerRequest(token, methodARN string) events.APIGatewayCustomAuthorizerRequest {
	return events.APIGatewayCustomAuthorizerRequest{
		Type:               "TOKEN",
		AuthorizationToken: "Bearer " + token,
		MethodArn:          methodARN,
	}
}

func newFunctionsCommand() *cobra.Command {
	var capability string
	cmd := &cobra.Command{
		Use:   "functions",
		Short: "List available functions and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := selectFunctions(cloudfn.DefaultRegistry, cloudfn.Capability(capability))
			if err != nil {
				return err
			}
			printFunctions(cmd.OutOrStdout(), defs)
			return nil
		},
	}
	cmd.Flags().StringVar(&capability, "capability", "", "Only list functions with this capability (dry_run, async, http, batch)")
	return cmd
}

// selectFunctions returns every definition, or only those with capability c.
func selectFunctions(r *cloudfn.Registry, c cloudfn.Capability) ([]cloudfn.Definition, error) {
	if c == "" {
		return r.Definitions(), nil
	}
	names := r.ListByCapability(c)
	defs := make([]cloudfn.Definition, 0, len(names))
	for _, name := range names {
		def, err := r.Definition(name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func printFunctions(w io.Writer, defs []cloudfn.Definition) {
	fmt.Fprintf(w, "%-24s %-16s %-16s %s\n", "NAME", "TRIGGER", "CAPABILITIES", "DESCRIPTION")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, d := range defs {
		caps := make([]string, 0, len(d.Capabilities))
		for _, c := range d.Capabilities {
			caps = append(caps, string(c))
		}
		capList := strings.Join(caps, ",")
		if capList == "" {
			capList = "-"
		}
		fmt.Fprintf(w, "%-24s %-16s %-16s %s\n", d.Name, d.Trigger, capList, d.Description)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "cloud-functions version %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  Functions: %d registered\n", len(cloudfn.ListFunctions()))
			return nil
		},
	}
}

// Helper functions

func checkOutput(output string) error {
	switch output {
	case "table", "json":
		return nil
	}
	return usageError("unknown output format: %s", output)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
