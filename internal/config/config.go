// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultAggregatorURL 은 Loggly bulk endpoint 형식이다.
// 첫 번째 %s 는 customer token, 두 번째 %s 는 tag.
const DefaultAggregatorURL = "https://logs-01.loggly.com/bulk/%s/tag/%s/"

// Config
//
// 프로세스 시작 시점에 Load() 로 한 번만 읽는 설정 모음.
// 이후에는 변경되지 않는 read-only 값이다.
type Config struct {

	// ---------------------------
	// 서버 식별자 / 네트워크
	// ---------------------------

	ServiceName string // 로그 공통 필드 (service)
	InstanceID  string // 호스트명 기반, 실패 시 랜덤 hex
	HTTPAddr    string // BIND_HOST:BIND_PORT
	MaxBodySize int64  // SNS 요청 body 최대 크기 (바이트)

	// ---------------------------
	// S3 (Object Fetcher)
	// ---------------------------

	AWSRegion    string
	S3Endpoint   string        // 비어 있으면 AWS 기본 endpoint
	S3PathStyle  bool          // S3 호환 스토리지/테스트용
	FetchTimeout time.Duration // GetObject 1회당 timeout

	// ---------------------------
	// Aggregation endpoint (Loggly)
	// ---------------------------

	LogglyToken   string
	LogglyTag     string
	AggregatorURL string        // 최종 POST 대상 URL
	UploadTimeout time.Duration // POST 1회당 timeout
	UploadRPS     float64       // 0 이면 제한 없음
	MaxBatchBytes int           // 배치 누적 크기 상한 (초과 시 flush)

	// ---------------------------
	// Transformer / Scheduler
	// ---------------------------

	OnlyErrors   bool          // true 면 elb_status_code >= 500 만 전송
	MaxTries     int           // attempts 가 이 값을 넘으면 포기
	PollInterval time.Duration // worker 반복 사이 고정 대기

	// ---------------------------
	// Dead letter (포기한 job 기록)
	// ---------------------------

	DeadLetterDir     string // 비어 있으면 비활성
	DeadLetterMaxSize int64  // 일자별 파일 최대 크기

	// ---------------------------
	// 로깅
	// ---------------------------

	LogLevel   string
	LogPretty  bool
	LogSampleN uint32
}

// Load
//
// env 파일(기본 .env)이 있으면 먼저 읽고, 환경 변수로 Config 를 만든다.
// 이미 설정된 환경 변수는 파일 값으로 덮어쓰지 않는다.
// 필수 값(LOGGLY_TOKEN)이 없거나 형식이 잘못되면 즉시 종료(fail-fast).
// 명시적으로 지정한 파일을 읽지 못해도 종료한다.
func Load(envFiles ...string) Config {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		log.Fatalf("config: %v", err)
	}

	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// FromEnv 는 Load 와 같지만 종료 대신 에러를 돌려준다.
func FromEnv() (Config, error) {
	var p parser

	cfg := Config{
		ServiceName: p.str("SERVICE_NAME", "elb-shipper"),
		InstanceID:  fallbackInstanceID(),
		HTTPAddr:    net.JoinHostPort(p.str("BIND_HOST", "0.0.0.0"), p.str("BIND_PORT", "5000")),
		MaxBodySize: p.num64("MAX_BODY_SIZE", 1<<20),

		AWSRegion:    p.str("AWS_REGION", "us-east-1"),
		S3Endpoint:   p.str("S3_ENDPOINT", ""),
		S3PathStyle:  p.flag("S3_PATH_STYLE", false),
		FetchTimeout: p.dur("FETCH_TIMEOUT", 5*time.Second),

		LogglyToken:   p.must("LOGGLY_TOKEN"),
		LogglyTag:     p.str("LOGGLY_TAG", "elb"),
		UploadTimeout: p.dur("UPLOAD_TIMEOUT", 5*time.Second),
		UploadRPS:     p.float("UPLOAD_RPS", 0),
		MaxBatchBytes: p.num("LOGGLY_MAX_SIZE", 4*1024*1024),

		OnlyErrors:   p.flag("ONLY_ERRORS", false),
		MaxTries:     p.num("MAX_TRIES", 15), // 15 → 약 9시간 backoff 후 포기
		PollInterval: p.dur("POLL_INTERVAL", 10*time.Second),

		DeadLetterDir:     p.str("DEAD_LETTER_DIR", ""),
		DeadLetterMaxSize: p.num64("DEAD_LETTER_MAX_SIZE", 64<<20),

		LogLevel:   p.str("LOG_LEVEL", "info"),
		LogPretty:  p.flag("LOG_PRETTY", false),
		LogSampleN: uint32(p.num("LOG_SAMPLE_N", 1)),
	}

	cfg.AggregatorURL = p.str("AGGREGATOR_URL", "")
	if cfg.AggregatorURL == "" && cfg.LogglyToken != "" {
		cfg.AggregatorURL = fmt.Sprintf(DefaultAggregatorURL, cfg.LogglyToken, cfg.LogglyTag)
	}

	if p.err != nil {
		return Config{}, p.err
	}
	if cfg.MaxTries < 0 {
		return Config{}, fmt.Errorf("MAX_TRIES must be >= 0, got %d", cfg.MaxTries)
	}
	if cfg.MaxBatchBytes <= 0 {
		return Config{}, fmt.Errorf("LOGGLY_MAX_SIZE must be > 0, got %d", cfg.MaxBatchBytes)
	}
	return cfg, nil
}

// parser 는 첫 번째 에러만 기억한다.
// 모든 키를 한 번에 읽은 뒤 마지막에 한 번만 검사하기 위함.
type parser struct {
	err error
}

func (p *parser) fail(key, v string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid env %s=%q: %w", key, v, err)
	}
}

func (p *parser) must(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" && p.err == nil {
		p.err = fmt.Errorf("missing required env: %s", key)
	}
	return v
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) num(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) num64(key string, def int64) int64 {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *parser) dur(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

// flag 는 "true"/"1" 만 참으로 본다 (대소문자 무시).
func (p *parser) flag(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1":
		return true
	default:
		return false
	}
}

// fallbackInstanceID
//
//   - 기본: hostname (ECS/Fargate 에서는 task-id 형태로 고유)
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
