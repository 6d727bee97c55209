package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"elb-shipper/internal/config"
	"elb-shipper/internal/metrics"
	"elb-shipper/internal/model"
	"elb-shipper/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	snsMessageTypeHeader = "x-amz-sns-message-type"
	confirmTimeout       = 10 * time.Second
)

// Enqueuer 는 intake 가 job 을 넘기는 대상 (worker.Scheduler).
type Enqueuer interface {
	Enqueue(sourceURL string) *model.Job
}

type Handler struct {
	cfg     config.Config
	metrics *metrics.Metrics
	enq     Enqueuer
	client  *http.Client // SubscribeURL 호출용
}

func NewHandler(cfg config.Config, m *metrics.Metrics, enq Enqueuer) *Handler {
	return &Handler{
		cfg:     cfg,
		metrics: m,
		enq:     enq,
		client:  &http.Client{Timeout: confirmTimeout},
	}
}

// HandleSNS
//
// SNS HTTP subscription endpoint.
//   - GET:  요청 헤더를 key=value 줄로 돌려준다 (연결 확인용)
//   - POST: x-amz-sns-message-type 에 따라 처리
//
// Notification 의 S3 레코드 중 eventName 이 ObjectCreated: 로 시작하는 것만
// job 으로 등록한다. 등록은 절대 block 하지 않으므로 SNS 에는 바로 200 을 준다.
// envelope 이 깨져 있으면 400.
func (h *Handler) HandleSNS(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.echoHeaders(w, r)
		return
	case http.MethodPost:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	atomic.AddInt64(&h.metrics.SNSRequestsTotal, 1)

	// --------------------------------------------------------------------
	// 요청 Body 최대 크기 강제 제한
	// --------------------------------------------------------------------
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	defer r.Body.Close()

	buf := pool.GetBody()
	defer pool.PutBody(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.reject(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		h.reject(w, http.StatusBadRequest, err)
		return
	}

	var env model.SNSEnvelope
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		h.reject(w, http.StatusBadRequest, fmt.Errorf("decode envelope: %w", err))
		return
	}

	msgType := r.Header.Get(snsMessageTypeHeader)
	if msgType == "" {
		msgType = env.Type
	}

	l := log.With().
		Str("type", msgType).
		Str("message_id", env.MessageID).
		Str("caller", clientIP(r)).
		Logger()
	l.Info().Str("content_type", r.Header.Get("Content-Type")).Msg("got SNS notification")

	switch msgType {
	case model.SNSSubscriptionConfirmation:
		if err := h.confirm(r.Context(), env.SubscribeURL); err != nil {
			// SNS 가 다시 보내도록 실패를 알린다
			l.Error().Err(err).Str("topic", env.TopicArn).Msg("subscription confirmation failed")
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		atomic.AddInt64(&h.metrics.SubscriptionConfirmationsTotal, 1)
		l.Info().Str("topic", env.TopicArn).Msg("subscription confirmed")

	case model.SNSUnsubscribeConfirmation:
		// no-op

	case model.SNSNotification:
		var ev model.S3Event
		if err := json.Unmarshal([]byte(env.Message), &ev); err != nil {
			h.reject(w, http.StatusBadRequest, fmt.Errorf("decode message: %w", err))
			return
		}
		h.dispatch(l, ev)

	default:
		l.Warn().Msg("unknown SNS message type")
	}

	w.WriteHeader(http.StatusOK)
}

// dispatch 는 S3 이벤트의 레코드를 job 으로 바꾼다.
func (h *Handler) dispatch(l zerolog.Logger, ev model.S3Event) {
	if len(ev.Records) == 0 {
		event := ev.Event
		if event == "" {
			event = "unknown"
		}
		l.Info().Str("event", event).Msg("ignored message")
		return
	}

	for _, rec := range ev.Records {
		if !strings.HasPrefix(rec.EventName, model.ObjectCreatedEventPrefix) {
			atomic.AddInt64(&h.metrics.RecordsIgnoredTotal, 1)
			name := rec.EventName
			if name == "" {
				name = "unknown"
			}
			l.Warn().Str("event", name).Msg("ignoring record")
			continue
		}

		h.enq.Enqueue(ObjectURL(rec.S3.Bucket.Name, rec.S3.Object.Key))
	}
}

// ObjectURL 은 S3 이벤트의 bucket/key 로 path-style 객체 URL 을 만든다.
// 이벤트의 key 는 form-encoded 이므로 먼저 decode 한다 ("+" → 공백).
func ObjectURL(bucket, key string) string {
	if k, err := url.QueryUnescape(key); err == nil {
		key = k
	}
	u, _ := url.Parse(model.DefaultObjectStorageURLPrefix)
	u.Path = "/" + bucket + "/" + key
	return u.String()
}

// confirm 은 SubscribeURL 을 GET 해서 구독을 확정한다.
func (h *Handler) confirm(ctx context.Context, subscribeURL string) error {
	if subscribeURL == "" {
		return errors.New("empty SubscribeURL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("SubscribeURL responded %d", resp.StatusCode)
	}
	return nil
}

func (h *Handler) echoHeaders(w http.ResponseWriter, r *http.Request) {
	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s=%s", k, strings.Join(r.Header[k], ", "))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(b.Bytes())
}

func (h *Handler) reject(w http.ResponseWriter, status int, err error) {
	atomic.AddInt64(&h.metrics.SNSRejectedTotal, 1)
	log.Warn().Err(err).Int("status", status).Msg("rejected SNS request")
	w.WriteHeader(status)
}

// HandleMetrics
//
// 서버 상태를 나타내는 카운터 값들을 text 로 출력한다.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}

// HandleHealth 는 프로세스가 요청을 받을 수 있으면 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// Routes 는 intake 의 전체 mux 를 만든다.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/sns", h.HandleSNS)
	mux.HandleFunc("/metrics", h.HandleMetrics)
	mux.HandleFunc("/health", h.HandleHealth)
	return mux
}
