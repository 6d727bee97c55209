package worker

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"

	"elb-shipper/internal/config"
	"elb-shipper/internal/elblog"
	"elb-shipper/internal/metrics"
)

// Fetcher 는 객체 URL 의 내용을 가져온다.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) ([]byte, error)
}

// Uploader 는 렌더링된 줄 묶음 하나를 전송한다.
type Uploader interface {
	Upload(ctx context.Context, lines []string) error
}

// Pipeline 은 파일 하나에 대해 fetch → transform → batch upload 를 수행한다.
//
// 업로드 실패 시 남은 내용은 버리고 에러를 돌려준다. 재시도는 파일을
// 처음부터 다시 처리하므로 앞서 성공한 배치는 다시 전송된다 (at-least-once).
type Pipeline struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	fetcher  Fetcher
	uploader Uploader
}

func NewPipeline(cfg config.Config, m *metrics.Metrics, f Fetcher, u Uploader) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		metrics:  m,
		fetcher:  f,
		uploader: u,
	}
}

// Process 는 Scheduler 의 Processor 구현이다.
func (p *Pipeline) Process(ctx context.Context, sourceURL string) error {
	raw, err := p.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return err
	}

	rd := elblog.NewReader(bytes.NewReader(raw), elblog.Options{OnlyErrors: p.cfg.OnlyErrors})
	defer func() {
		atomic.AddInt64(&p.metrics.LinesFilteredTotal, int64(rd.Skipped()))
	}()

	batch := NewBatch(p.cfg.MaxBatchBytes)

	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		line, err := rec.Render()
		if err != nil {
			return err
		}

		if batch.Add(line) {
			if err := p.flush(ctx, batch); err != nil {
				return err
			}
		}
	}

	if batch.Len() > 0 {
		return p.flush(ctx, batch)
	}
	return nil
}

func (p *Pipeline) flush(ctx context.Context, b *Batch) error {
	err := p.uploader.Upload(ctx, b.Lines())
	b.Reset()
	return err
}
