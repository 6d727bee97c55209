// internal/worker/bulk_uploader.go
package worker

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"sync/atomic"

	"elb-shipper/internal/config"
	"elb-shipper/internal/metrics"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// 진단용으로 보관하는 실패 응답 body 최대 크기
const maxErrorBody = 64 * 1024

// BulkUploader 는 렌더링된 줄 묶음을 aggregation endpoint (Loggly bulk) 로 POST 한다.
//   - POST 1회당 UploadTimeout
//   - 2xx 외 응답은 *UploadError (응답 body 포함)
//   - 재시도 없음. 실패하면 파일 전체가 Scheduler backoff 로 넘어간다.
type BulkUploader struct {
	cfg     config.Config
	metrics *metrics.Metrics
	client  *http.Client
	limiter *rate.Limiter
}

func NewBulkUploader(cfg config.Config, m *metrics.Metrics) *BulkUploader {
	// UPLOAD_RPS 가 0 이면 제한 없음
	limit := rate.Inf
	if cfg.UploadRPS > 0 {
		limit = rate.Limit(cfg.UploadRPS)
	}

	return &BulkUploader{
		cfg:     cfg,
		metrics: m,
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, int(math.Max(1, math.Ceil(cfg.UploadRPS)))),
	}
}

// Upload 는 lines 를 "\n" 으로 이어서 한 번에 전송한다.
func (u *BulkUploader) Upload(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	if err := u.limiter.Wait(ctx); err != nil {
		return &UploadError{Lines: len(lines), Err: err}
	}

	body := encodeLines(lines)

	log.Info().
		Int("items", len(lines)).
		Str("size", humanize.IBytes(uint64(len(body)))).
		Msg("sending items to aggregator")

	ctx2, cancel := context.WithTimeout(ctx, u.cfg.UploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, http.MethodPost, u.cfg.AggregatorURL, bytes.NewReader(body))
	if err != nil {
		return &UploadError{Lines: len(lines), Err: err}
	}
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := u.client.Do(req)
	if err != nil {
		return &UploadError{Lines: len(lines), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UploadError{Lines: len(lines), Status: resp.StatusCode, Body: string(msg)}
	}
	// keep-alive 재사용을 위해 body 를 끝까지 읽는다
	_, _ = io.Copy(io.Discard, resp.Body)

	atomic.AddInt64(&u.metrics.LinesShippedTotal, int64(len(lines)))
	atomic.AddInt64(&u.metrics.BatchesShippedTotal, 1)
	atomic.AddInt64(&u.metrics.BytesShippedTotal, int64(len(body)))
	return nil
}
