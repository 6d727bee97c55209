package pool

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// 배치 하나는 기본 4MiB 까지 커지고, 로그 파일마다 gzip 해제가 필요하다.
// 업로드 body 버퍼와 gzip.Reader 를 재사용해서 GC 부담을 줄인다.
// ---------------------------------------------------------------

var (
	// BodyPool:
	//   - 업로드 body (줄들을 "\n" 으로 이은 결과) 를 담는 버퍼
	//   - 초기 용량 256KB
	BodyPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// gzipReaders:
	//   - gzip.Reader 재사용 (Reset 으로 새 입력에 연결)
	gzipReaders sync.Pool
)

// MaxBufferCap 보다 큰 버퍼는 풀에 넣지 않고 GC 에 맡긴다.
// 기본 배치 상한(4MiB) 에 한 줄 여유를 더한 크기.
const MaxBufferCap = 5 * 1024 * 1024

// GetBody 는 비어 있는 body 버퍼를 돌려준다.
func GetBody() *bytes.Buffer {
	buf := BodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBody:
//   - MaxBufferCap 이하이면 풀에 재사용
//   - 초대형 버퍼는 돌려놓지 않음
func PutBody(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BodyPool.Put(buf)
	}
}

// GetGzipReader 는 r 에 연결된 gzip.Reader 를 돌려준다.
// 사용 후 PutGzipReader 로 반환해야 한다.
func GetGzipReader(r io.Reader) (*gzip.Reader, error) {
	if zr, ok := gzipReaders.Get().(*gzip.Reader); ok {
		if err := zr.Reset(r); err != nil {
			gzipReaders.Put(zr)
			return nil, err
		}
		return zr, nil
	}
	return gzip.NewReader(r)
}

func PutGzipReader(zr *gzip.Reader) {
	_ = zr.Close()
	gzipReaders.Put(zr)
}
