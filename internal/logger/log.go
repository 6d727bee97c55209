// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"elb-shipper/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 프로세스 시작 시 한 번만 호출한다.
//
//  1. 포맷: LOG_PRETTY=true 면 콘솔용 컬러 텍스트, 아니면 JSON (CloudWatch 등 수집용)
//  2. 공통 필드: 모든 로그에 service / instance 를 붙인다
//  3. 샘플링: LOG_SAMPLE_N > 1 이면 Debug/Info 만 1/N 로 기록, Warn/Error 는 항상 기록
//
// 표준 라이브러리 log 출력도 zerolog 로 돌린다.
func Init(cfg config.Config) {
	zlog.Logger = New(cfg, os.Stdout)

	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// New 는 Init 과 같은 규칙으로 w 에 쓰는 logger 를 만든다.
// 전역 상태는 건드리지 않는다.
func New(cfg config.Config, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && l != zerolog.NoLevel {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogPretty {
		// 개발 중엔 시간만 보여도 충분함
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	if cfg.LogSampleN <= 1 {
		return base
	}

	return base.Sample(&zerolog.LevelSampler{
		DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
		InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		// Warn/Error 는 샘플링하지 않음 (nil)
	})
}
