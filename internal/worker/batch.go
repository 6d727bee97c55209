package worker

import (
	"bytes"

	"elb-shipper/internal/pool"
)

// Batch 는 업로드 전까지 렌더링된 줄을 모으는 버퍼다.
//
// 크기는 줄 길이(바이트)의 합이며, 구분자 "\n" 은 세지 않는다.
// Add 후 누적 크기가 limit 를 "초과"하면 flush 신호(true)를 준다.
type Batch struct {
	limit int
	lines []string
	size  int
}

func NewBatch(limit int) *Batch {
	return &Batch{limit: limit}
}

// Add 는 줄을 추가하고, 누적 크기가 limit 를 넘었는지 돌려준다.
func (b *Batch) Add(line string) bool {
	b.lines = append(b.lines, line)
	b.size += len(line)
	return b.size > b.limit
}

func (b *Batch) Lines() []string { return b.lines }
func (b *Batch) Len() int        { return len(b.lines) }
func (b *Batch) Size() int       { return b.size }

// Reset 은 새 slice 로 교체한다.
// 이미 넘긴 Lines() 를 덮어쓰지 않도록 기존 slice 는 재사용하지 않는다.
func (b *Batch) Reset() {
	b.lines = nil
	b.size = 0
}

// encodeLines 는 줄들을 "\n" 으로 이어 붙인 body 를 만든다.
// pool 버퍼에서 조립한 뒤 호출자 소유의 새 slice 로 복사해서 돌려준다
// (pool 버퍼를 그대로 넘기면 재사용 시 데이터가 오염된다).
func encodeLines(lines []string) []byte {
	buf := pool.GetBody()
	defer pool.PutBody(buf)

	for i, l := range lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(l)
	}
	return bytes.Clone(buf.Bytes())
}
