package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"elb-shipper/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var onlyErrors bool

// process 는 scheduler 없이 파이프라인을 한 번씩만 실행한다.
// dead letter 에 남은 URL 을 수동으로 다시 보낼 때 쓴다.
var processCmd = &cobra.Command{
	Use:   "process url...",
	Short: "Fetch, transform and upload the given log objects once",
	Example: `  shipper process s3://my-logs/AWSLogs/123/elasticloadbalancing/us-east-1/2015/05/13/a.log
  shipper process --only-errors https://s3.amazonaws.com/my-logs/a.log`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		if cmd.Flags().Changed("only-errors") {
			cfg.OnlyErrors = onlyErrors
		}

		fetcher, err := worker.NewS3Fetcher(ctx, cfg, m)
		if err != nil {
			return err
		}
		p := worker.NewPipeline(cfg, m, fetcher, worker.NewBulkUploader(cfg, m))

		failed := 0
		for _, u := range args {
			if err := p.Process(ctx, u); err != nil {
				failed++
				log.Error().Err(err).Str("url", u).Str("kind", string(worker.Classify(err))).Msg("processing failed")
				continue
			}
			log.Info().Str("url", u).Msg("processed")
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d objects failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	processCmd.Flags().BoolVar(&onlyErrors, "only-errors", false, "ship only rows with elb_status_code >= 500 (overrides ONLY_ERRORS)")
}
