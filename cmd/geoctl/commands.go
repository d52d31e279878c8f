package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sahilchouksey/geocoder/client"
	"github.com/sahilchouksey/geocoder/config"
	"github.com/sahilchouksey/geocoder/model"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	apiURL     string
	configFile string
	timeout    time.Duration
}

type inputOptions struct {
	kind       string
	postalCode string
	lat        float64
	lng        float64
}

func (o *inputOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.kind, "kind", "k", "", "forward_city, forward_coords, reverse_to_region or reverse_to_address")
	cmd.Flags().StringVarP(&o.postalCode, "postal-code", "p", "", "postal code (forward kinds)")
	cmd.Flags().Float64Var(&o.lat, "lat", 0, "latitude (reverse kinds)")
	cmd.Flags().Float64Var(&o.lng, "lng", 0, "longitude (reverse kinds)")
	cmd.MarkFlagRequired("kind")
}

// parse turns flags into a validated kind and input
func (o *inputOptions) parse(cmd *cobra.Command) (model.Kind, model.Input, error) {
	kind, err := model.ParseKind(o.kind)
	if err != nil {
		return "", model.Input{}, err
	}

	var in model.Input
	if kind.IsForward() {
		in = model.PostalInput(o.postalCode)
	} else if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng") {
		in = model.CoordsInput(o.lat, o.lng)
	}

	if err := in.Validate(kind); err != nil {
		return "", model.Input{}, err
	}
	return kind, in, nil
}

// BuildCLI assembles the geoctl command tree
func BuildCLI() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "geoctl",
		Short: "geoctl: submit and inspect geocoding jobs",
		Long: `geoctl drives the geocoder API:
- submit jobs and wait for them with bounded backoff
- synchronous lookups that bypass the queue
- cache invalidation and failed-job inspection`,
		SilenceUsage: true,
	}

	defaultURL := os.Getenv("GEOCODER_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", defaultURL, "geocoder API base URL (env GEOCODER_API_URL)")
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", os.Getenv("GEOCODER_CONFIG"), "pipeline config file for poller settings")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 20*time.Second, "per-request HTTP timeout")

	rootCmd.AddCommand(buildSubmitCommand(opts))
	rootCmd.AddCommand(buildStatusCommand(opts))
	rootCmd.AddCommand(buildLookupCommand(opts))
	rootCmd.AddCommand(buildInvalidateCommand(opts))
	rootCmd.AddCommand(buildFailuresCommand(opts))

	return rootCmd
}

func (o *globalOptions) client() *client.HTTPClient {
	return client.NewHTTPClient(o.apiURL, o.timeout)
}

func buildSubmitCommand(opts *globalOptions) *cobra.Command {
	in := &inputOptions{}
	var wait, fallbackOnTimeout bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a geocode job",
		Long:  "Submit a geocode job. With --wait, poll until it completes, falling back to a direct lookup if the worker tier looks down.",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, input, err := in.parse(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			api := opts.client()

			job, err := api.Submit(ctx, kind, input)
			if err != nil {
				return err
			}
			if !wait {
				return printJSON(cmd.OutOrStdout(), job)
			}

			cfg, err := config.LoadPipelineConfig(opts.configFile)
			if err != nil {
				return err
			}
			pollerCfg := client.PollerConfigFrom(cfg)
			pollerCfg.FallbackOnTimeout = fallbackOnTimeout

			outcome, err := client.NewPoller(api, pollerCfg).Await(ctx, job)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), outcome)
		},
	}

	in.register(cmd)
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the job to finish")
	cmd.Flags().BoolVar(&fallbackOnTimeout, "fallback-on-timeout", false, "resolve directly when the wait window runs out")

	return cmd
}

func buildStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show a job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := opts.client().GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func buildLookupCommand(opts *globalOptions) *cobra.Command {
	in := &inputOptions{}

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Resolve synchronously without creating a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, input, err := in.parse(cmd)
			if err != nil {
				return err
			}
			res, err := opts.client().Lookup(cmd.Context(), kind, input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	in.register(cmd)
	return cmd
}

func buildInvalidateCommand(opts *globalOptions) *cobra.Command {
	in := &inputOptions{}

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop the cached result and in-flight marker for an input",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, input, err := in.parse(cmd)
			if err != nil {
				return err
			}
			if err := opts.client().Invalidate(cmd.Context(), kind, input); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Invalidated %s %s\n", kind, input)
			return nil
		},
	}

	in.register(cmd)
	return cmd
}

func buildFailuresCommand(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List recently failed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			failures, err := opts.client().Failures(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), failures)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of failures to show")
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func execute(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := BuildCLI()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	return cmd.ExecuteContext(ctx)
}
