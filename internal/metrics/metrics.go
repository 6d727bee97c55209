package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 서버 상태를 나타내는 카운터 모음이다.
// /metrics 에서 text 로 노출되며, 운영자가 장애 원인을 볼 때 쓰는 값들이다.
type Metrics struct {
	// ======================
	// Intake (SNS) 지표
	// ======================

	// SNSRequestsTotal
	// - /sns 로 들어온 POST 요청 수 (message type 무관).
	SNSRequestsTotal int64

	// SNSRejectedTotal
	// - body 초과 또는 JSON 파싱 실패로 4xx 를 돌려준 요청 수.
	SNSRejectedTotal int64

	// SubscriptionConfirmationsTotal
	// - SubscribeURL 호출에 성공한 횟수.
	SubscriptionConfirmationsTotal int64

	// RecordsIgnoredTotal
	// - eventName 이 ObjectCreated: 로 시작하지 않아 버린 S3 레코드 수.
	RecordsIgnoredTotal int64

	// ======================
	// Scheduler 지표
	// ======================

	// JobsEnqueuedTotal: Enqueue 로 새로 들어온 job 수 (재등록 제외).
	JobsEnqueuedTotal int64

	// JobsSucceededTotal: fetch→transform→upload 가 끝까지 성공한 job 수.
	JobsSucceededTotal int64

	// JobAttemptsFailedTotal
	// - 실패한 "시도" 수. 한 job 이 여러 번 실패하면 여러 번 증가한다.
	JobAttemptsFailedTotal int64

	// JobsDeferredTotal
	// - not_before 가 아직 미래라서 실행하지 않고 뒤로 돌린 횟수.
	// - poll 주기 대비 backoff 가 길수록 커지는 것이 정상.
	JobsDeferredTotal int64

	// JobsAbandonedTotal
	// - MaxTries 를 넘겨 포기한 job 수. 0 이 아니면 데이터 유실이 시작된 것.
	JobsAbandonedTotal int64

	// JobsLostOnShutdownTotal
	// - 종료 시점에 queue 에 남아 있던 job 수 (영속화하지 않음).
	JobsLostOnShutdownTotal int64

	// QueueDepth: 현재 queue 길이 (gauge).
	QueueDepth int64

	// ======================
	// Pipeline 지표
	// ======================

	FetchErrorsTotal  int64
	ParseErrorsTotal  int64
	UploadErrorsTotal int64

	// ObjectsFetchedTotal / ObjectBytesFetchedTotal: 가져온 로그 파일 수와 (압축 해제 후) 크기.
	ObjectsFetchedTotal     int64
	ObjectBytesFetchedTotal int64

	// LinesFilteredTotal: ONLY_ERRORS 로 걸러진 레코드 수.
	LinesFilteredTotal int64

	// LinesShippedTotal / BatchesShippedTotal / BytesShippedTotal
	// - 업로드 성공한 줄 수, 배치 수, body 바이트 수.
	// - 재시도 시 같은 파일의 앞 배치가 다시 전송되므로 중복이 포함될 수 있다.
	LinesShippedTotal   int64
	BatchesShippedTotal int64
	BytesShippedTotal   int64

	// DeadLettersWrittenTotal: 포기한 job 을 dead letter 파일에 기록한 수.
	DeadLettersWrittenTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(768)

	line := func(name string, v *int64) {
		fmt.Fprintf(&sb, "%s=%d\n", name, atomic.LoadInt64(v))
	}

	line("sns_requests_total", &m.SNSRequestsTotal)
	line("sns_rejected_total", &m.SNSRejectedTotal)
	line("sns_subscription_confirmations_total", &m.SubscriptionConfirmationsTotal)
	line("sns_records_ignored_total", &m.RecordsIgnoredTotal)

	line("jobs_enqueued_total", &m.JobsEnqueuedTotal)
	line("jobs_succeeded_total", &m.JobsSucceededTotal)
	line("job_attempts_failed_total", &m.JobAttemptsFailedTotal)
	line("jobs_deferred_total", &m.JobsDeferredTotal)
	line("jobs_abandoned_total", &m.JobsAbandonedTotal)
	line("jobs_lost_on_shutdown_total", &m.JobsLostOnShutdownTotal)
	line("queue_depth", &m.QueueDepth)

	line("fetch_errors_total", &m.FetchErrorsTotal)
	line("parse_errors_total", &m.ParseErrorsTotal)
	line("upload_errors_total", &m.UploadErrorsTotal)
	line("objects_fetched_total", &m.ObjectsFetchedTotal)
	line("object_bytes_fetched_total", &m.ObjectBytesFetchedTotal)
	line("lines_filtered_total", &m.LinesFilteredTotal)
	line("lines_shipped_total", &m.LinesShippedTotal)
	line("batches_shipped_total", &m.BatchesShippedTotal)
	line("bytes_shipped_total", &m.BytesShippedTotal)

	line("dead_letters_written_total", &m.DeadLettersWrittenTotal)

	return sb.String()
}
