// internal/worker/s3_fetcher.go
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync/atomic"

	"elb-shipper/internal/config"
	"elb-shipper/internal/metrics"
	"elb-shipper/internal/pool"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

var gzipMagic = []byte{0x1f, 0x8b}

// S3Fetcher 는 SNS 로 통지된 로그 객체를 S3 에서 가져온다.
//   - 요청 서명(SigV4)은 AWS SDK v2 가 담당
//   - GetObject 1회당 FetchTimeout
//   - SDK retry 는 끈다. 재시도 정책은 오직 Scheduler 의 backoff 만 사용한다.
//   - .gz 객체(또는 gzip magic 으로 시작하는 body)는 압축을 풀어서 돌려준다.
type S3Fetcher struct {
	cfg     config.Config
	metrics *metrics.Metrics
	client  *s3.Client
}

// NewS3Fetcher 는 기본 credential chain(AWS_ACCESS_KEY_ID 등)으로 client 를 만든다.
func NewS3Fetcher(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*S3Fetcher, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewS3FetcherWithConfig(awsCfg, cfg, m), nil
}

// NewS3FetcherWithConfig 는 이미 준비된 aws.Config 를 사용한다 (테스트, 정적 credential).
func NewS3FetcherWithConfig(awsCfg aws.Config, cfg config.Config, m *metrics.Metrics) *S3Fetcher {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
		o.UsePathStyle = cfg.S3PathStyle
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	})

	return &S3Fetcher{
		cfg:     cfg,
		metrics: m,
		client:  client,
	}
}

// Fetch 는 sourceURL 이 가리키는 객체의 (압축 해제된) 내용을 돌려준다.
// 모든 실패는 *FetchError 로 감싸서 돌려준다.
func (f *S3Fetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	bucket, key, err := ParseObjectURL(sourceURL)
	if err != nil {
		return nil, &FetchError{URL: sourceURL, Err: err}
	}

	// 1회 시도당 timeout 적용. body 읽기까지 포함한다.
	ctx2, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	out, err := f.client.GetObject(ctx2, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, newFetchError(sourceURL, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &FetchError{URL: sourceURL, Err: fmt.Errorf("read body: %w", err)}
	}

	if strings.HasSuffix(key, ".gz") || bytes.HasPrefix(data, gzipMagic) {
		if data, err = gunzip(data); err != nil {
			return nil, &FetchError{URL: sourceURL, Err: fmt.Errorf("gunzip: %w", err)}
		}
	}

	atomic.AddInt64(&f.metrics.ObjectsFetchedTotal, 1)
	atomic.AddInt64(&f.metrics.ObjectBytesFetchedTotal, int64(len(data)))
	return data, nil
}

// newFetchError 는 SDK 에러 체인에서 HTTP status 와 S3 error code 를 꺼낸다.
func newFetchError(sourceURL string, err error) *FetchError {
	fe := &FetchError{URL: sourceURL, Err: err}

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		fe.Status = re.HTTPStatusCode()
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		fe.Code = ae.ErrorCode()
	}
	return fe
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := pool.GetGzipReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer pool.PutGzipReader(zr)

	return io.ReadAll(zr)
}

// ParseObjectURL 은 객체 URL 에서 bucket / key 를 꺼낸다.
//
// 지원 형식:
//
//	s3://<bucket>/<key>
//	https://s3.amazonaws.com/<bucket>/<key>             (path-style, intake 가 만드는 형식)
//	https://s3-<region>.amazonaws.com/<bucket>/<key>
//	https://<bucket>.s3.amazonaws.com/<key>             (virtual-hosted)
//	https://<bucket>.s3.<region>.amazonaws.com/<key>
//	http://localhost:9000/<bucket>/<key>                (그 외 host 는 path-style 로 본다)
//
// key 는 URL decode 된 값이다.
func ParseObjectURL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	path := strings.TrimPrefix(u.Path, "/")

	switch u.Scheme {
	case "s3":
		bucket, key = u.Host, path

	case "http", "https":
		host := u.Hostname()
		if i := virtualHostIndex(host); i > 0 {
			bucket, key = host[:i], path
		} else {
			bucket, key, _ = strings.Cut(path, "/")
		}

	default:
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("no bucket/key in %q", raw)
	}
	return bucket, key, nil
}

// virtualHostIndex 는 "<bucket>.s3." / "<bucket>.s3-" 형태일 때 bucket 끝 위치를 돌려준다.
func virtualHostIndex(host string) int {
	if !strings.HasSuffix(host, ".amazonaws.com") {
		return -1
	}
	for _, marker := range []string{".s3.", ".s3-"} {
		if i := strings.Index(host, marker); i > 0 {
			return i
		}
	}
	return -1
}
