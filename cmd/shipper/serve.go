package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"elb-shipper/internal/server"
	"elb-shipper/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SNS endpoint and the retry scheduler",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// ====================================================================
	// Pipeline 구성: S3Fetcher → elblog → BulkUploader
	// ====================================================================
	fetcher, err := worker.NewS3Fetcher(ctx, cfg, m)
	if err != nil {
		return err
	}
	uploader := worker.NewBulkUploader(cfg, m)

	dead, err := worker.NewDeadLetter(cfg.DeadLetterDir, cfg.DeadLetterMaxSize, m)
	if err != nil {
		return err
	}

	// ====================================================================
	// Scheduler 는 프로세스 시작 시 한 번만 띄운다.
	// intake 는 Enqueue 만 하고 worker 상태를 확인하지 않는다.
	// ====================================================================
	sched := worker.NewScheduler(cfg, m, worker.NewPipeline(cfg, m, fetcher, uploader), dead)
	sched.Start()
	defer sched.Shutdown()

	h := server.NewHandler(cfg, m, sched)

	// ====================================================================
	// HTTP 서버 설정
	// ====================================================================
	//
	// SNS 요청은 작은 JSON 이고 처리도 Enqueue 뿐이다.
	// SubscriptionConfirmation 만 외부 호출(최대 10초)이 있으므로
	// WriteTimeout 은 그보다 길게 둔다.
	// ====================================================================
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      h.Routes(),
		ReadTimeout:  8 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Int("max_tries", cfg.MaxTries).
			Bool("only_errors", cfg.OnlyErrors).
			Msg("shipper listening")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// ====================================================================
	// Graceful Shutdown
	// ====================================================================
	//
	// SIGTERM 수신 시:
	//   1) HTTP 서버 먼저 멈춘다 (새 notification 을 받지 않음)
	//   2) scheduler 를 멈춘다. queue 에 남은 job 은 기록 후 유실된다.
	// ====================================================================
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}

		log.Info().Int("queued", sched.Len()).Msg("stopping scheduler")
		sched.Shutdown()
		return nil
	})

	err = g.Wait()
	log.Info().Msg("shutdown complete")
	return err
}
