package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tastythames/hpc-jobwatch/internal/webapi"
)

func newWebAPICmd() *cobra.Command {
	var computer string

	cmd := &cobra.Command{
		Use:   "webapi",
		Short: "Submit or cancel jobs through the scheduler REST API",
	}
	cmd.PersistentFlags().StringVar(&computer, "computer", "fugaku", "Computer name in the API path")

	client := func() (*webapi.Client, error) {
		if cfg.WebAPI.CertFile == "" {
			return nil, fmt.Errorf("JOBWATCH_WEBAPI_CERT_FILE is not set")
		}
		return webapi.New(cfg.WebAPI, computer, logger)
	}

	var req webapi.SubmitRequest
	submit := &cobra.Command{
		Use:   "submit SCRIPT",
		Short: "Submit a job script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := client()
			if err != nil {
				return err
			}
			req.Script = string(b)
			id, err := c.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	submit.Flags().StringVar(&req.WorkDir, "workdir", "", "Remote working directory")
	submit.Flags().StringVar(&req.Queue, "queue", "", "Queue or resource group")
	submit.Flags().StringToStringVar(&req.Parameters, "param", nil, "Extra scheduler parameters (key=value)")

	cancel := &cobra.Command{
		Use:   "cancel JOBID",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			if err := c.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			logger.Info().Str("jobID", args[0]).Msg("job canceled")
			return nil
		},
	}

	cmd.AddCommand(submit, cancel)
	return cmd
}
