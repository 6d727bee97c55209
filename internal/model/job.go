// internal/model/job.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// Job
// ------------------------------------------------------------
// 재시도 가능한 작업 단위. 로그 파일 하나(SourceURL)를
// fetch → transform → upload 하는 작업을 나타낸다.
//
// 소유권:
//   - Queue 에 들어 있는 동안은 Queue 소유
//   - worker 가 Pop 한 뒤에는 완료/재등록/포기 전까지 worker 소유
//
// 두 소유자가 같은 Job 을 동시에 보는 일은 없으므로 lock 이 없다.
type Job struct {
	ID         string    `json:"id"`          // 로그 상관관계용 (uuid)
	SourceURL  string    `json:"source_url"`  // 가져올 객체 URL
	NotBefore  time.Time `json:"not_before"`  // 이 시각 전에는 실행하지 않음
	Attempts   int       `json:"attempts"`    // 이미 수행한 실행 횟수
	EnqueuedAt time.Time `json:"enqueued_at"` // 최초 등록 시각
}

// NewJob 은 attempts=0, not_before=now 인 Job 을 만든다.
func NewJob(sourceURL string, now time.Time) *Job {
	return &Job{
		ID:         uuid.NewString(),
		SourceURL:  sourceURL,
		NotBefore:  now,
		EnqueuedAt: now,
	}
}

// Due 는 now 시점에 실행 가능한지 여부.
func (j *Job) Due(now time.Time) bool {
	return !j.NotBefore.After(now)
}
