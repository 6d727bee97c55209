// internal/worker/deadletter.go
package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"elb-shipper/internal/metrics"
	"elb-shipper/internal/model"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	deadLetterPrefix = "abandoned-"
	deadLetterSuffix = ".jsonl"
	deadLetterDay    = "2006-01-02"
)

// DeadLetterEntry 는 포기한 job 한 건의 기록이다 (JSONL 한 줄).
type DeadLetterEntry struct {
	JobID       string    `json:"job_id"`
	SourceURL   string    `json:"source_url"`
	Attempts    int       `json:"attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	AbandonedAt time.Time `json:"abandoned_at"`
	Kind        Kind      `json:"kind,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// DeadLetter
//
// MaxTries 를 넘겨 포기한 job 을 로컬 디스크에 남긴다.
// 재처리는 하지 않는다. 운영자가 `dead-letters` 명령으로 확인한 뒤
// 필요하면 `process <url>` 로 수동 재처리한다.
//
// 파일명: <dir>/abandoned-YYYY-MM-DD.jsonl (UTC 기준)
// 문자열 정렬 = 날짜 정렬.
//
// nil *DeadLetter 는 "비활성" 이며 모든 메서드가 no-op 이다.
type DeadLetter struct {
	dir     string
	maxSize int64 // 일자별 파일 최대 크기, 0 이하면 무제한
	metrics *metrics.Metrics
	now     func() time.Time

	mu sync.Mutex
}

// NewDeadLetter 는 dir 가 비어 있으면 nil 을 돌려준다.
func NewDeadLetter(dir string, maxSize int64, m *metrics.Metrics) (*DeadLetter, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dead letter dir: %w", err)
	}
	return &DeadLetter{
		dir:     dir,
		maxSize: maxSize,
		metrics: m,
		now:     time.Now,
	}, nil
}

// Record 는 job 을 오늘 날짜 파일에 한 줄 추가한다.
// 파일이 maxSize 를 넘게 되면 기록하지 않고 로그만 남긴다.
func (d *DeadLetter) Record(job *model.Job, cause error) error {
	if d == nil || job == nil {
		return nil
	}

	now := d.now().UTC()
	entry := DeadLetterEntry{
		JobID:       job.ID,
		SourceURL:   job.SourceURL,
		Attempts:    job.Attempts,
		EnqueuedAt:  job.EnqueuedAt,
		AbandonedAt: now,
	}
	if cause != nil {
		entry.Kind = Classify(cause)
		entry.Error = cause.Error()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.path(now.Format(deadLetterDay))

	if d.maxSize > 0 {
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		if size+int64(len(line)) > d.maxSize {
			log.Error().
				Str("file", path).
				Str("url", job.SourceURL).
				Msg("dead letter file full, entry dropped")
			return nil
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if d.metrics != nil {
		atomic.AddInt64(&d.metrics.DeadLettersWrittenTotal, 1)
	}
	return nil
}

// Days 는 기록이 있는 날짜(YYYY-MM-DD)를 오래된 순으로 돌려준다.
func (d *DeadLetter) Days() ([]string, error) {
	if d == nil {
		return nil, nil
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}

	days := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, deadLetterPrefix) || !strings.HasSuffix(name, deadLetterSuffix) {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, deadLetterPrefix), deadLetterSuffix)
		if _, err := time.Parse(deadLetterDay, day); err != nil {
			continue
		}
		days = append(days, day)
	}

	// ReadDir 는 이름순이지만 필터 후에도 순서를 보장하기 위해 명시적으로 정렬
	sort.Strings(days)
	return days, nil
}

// Entries 는 day(YYYY-MM-DD) 파일의 기록을 순서대로 읽는다.
// 파일이 없으면 빈 결과, 깨진 줄은 건너뛴다.
func (d *DeadLetter) Entries(day string) ([]DeadLetterEntry, error) {
	if d == nil {
		return nil, nil
	}
	if _, err := time.Parse(deadLetterDay, day); err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}

	f, err := os.Open(d.path(day))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []DeadLetterEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e DeadLetterEntry
		if err := json.Unmarshal(line, &e); err != nil {
			log.Warn().Err(err).Str("day", day).Msg("skipping malformed dead letter line")
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func (d *DeadLetter) path(day string) string {
	return filepath.Join(d.dir, deadLetterPrefix+day+deadLetterSuffix)
}
