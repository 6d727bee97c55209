package main

import (
	"os"

	"elb-shipper/internal/config"
	"elb-shipper/internal/logger"
	"elb-shipper/internal/metrics"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// 모든 하위 명령이 공유하는 상태. PersistentPreRun 에서 채운다.
var (
	envFile string
	cfg     config.Config
	m       *metrics.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "shipper",
	Short: "Ship ELB access logs from S3 to Loggly",
	Long: `shipper receives S3 "object created" notifications through SNS,
downloads each ELB access log, converts every row into a summary line plus
JSON, and posts the result to the Loggly bulk endpoint in batches.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if envFile != "" {
			cfg = config.Load(envFile)
		} else {
			cfg = config.Load()
		}
		logger.Init(cfg)
		m = metrics.New()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "read environment from this file instead of .env")

	rootCmd.AddCommand(serveCmd, processCmd, deadLettersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
