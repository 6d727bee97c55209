package worker

import (
	"errors"
	"fmt"

	"elb-shipper/internal/elblog"
)

// Kind 는 job 실행 실패의 분류.
// backoff 정책은 모든 Kind 에 동일하며, 로그/metrics 구분에만 쓴다.
type Kind string

const (
	KindFetch  Kind = "fetch"
	KindParse  Kind = "parse"
	KindUpload Kind = "upload"
	KindPanic  Kind = "panic"
	KindOther  Kind = "other"
)

// FetchError: object storage 에서 로그 파일을 가져오지 못함
// (네트워크, timeout, non-2xx, 잘못된 URL).
type FetchError struct {
	URL    string
	Status int    // HTTP status, 응답이 없으면 0
	Code   string // S3 error code (NoSuchKey 등)
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status=%d code=%s: %v", e.URL, e.Status, e.Code, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UploadError: aggregation endpoint 가 배치를 받지 않음.
// Status 가 0 이면 transport 레벨 실패이고 Err 에 원인이 있다.
type UploadError struct {
	Lines  int
	Status int
	Body   string // 진단용 응답 body (앞부분만)
	Err    error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload %d lines: %v", e.Lines, e.Err)
	}
	return fmt.Sprintf("upload %d lines: aggregator responded %d: %s", e.Lines, e.Status, e.Body)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PanicError 는 Processor 안에서 발생한 panic 을 감싼다.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Classify 는 에러 체인에서 가장 먼저 맞는 Kind 를 돌려준다.
func Classify(err error) Kind {
	var (
		fe *FetchError
		pe *elblog.ParseError
		ue *UploadError
		pa *PanicError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return KindFetch
	case errors.As(err, &pe):
		return KindParse
	case errors.As(err, &ue):
		return KindUpload
	case errors.As(err, &pa):
		return KindPanic
	default:
		return KindOther
	}
}
