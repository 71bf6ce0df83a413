package eventloop

import (
	"sync"

	"github.com/andrewhop/aws-c-io/channel"
)

// bucket is one size class of pooled buffers. Grounded on smux's
// defaultAllocator, which also buckets free buffers by capacity rather
// than pooling a single fixed size.
type bucket struct {
	size int
	pool sync.Pool
}

// Pool is the default channel.MessagePool: a small set of size-classed
// sync.Pool buckets, sized in powers of two from 1 KiB up to
// channel.MaxFragmentSize. Requests above the largest bucket are allocated
// directly and not returned to any pool.
type Pool struct {
	buckets []*bucket
}

func newPool() *Pool {
	p := &Pool{}
	for size := 1024; uint64(size) <= channel.MaxFragmentSize(); size *= 2 {
		size := size
		p.buckets = append(p.buckets, &bucket{
			size: size,
			pool: sync.Pool{New: func() any { return make([]byte, size) }},
		})
	}
	return p
}

func (p *Pool) bucketFor(n int) *bucket {
	for _, b := range p.buckets {
		if b.size >= n {
			return b
		}
	}
	return nil
}

// Get returns a Message of kind with capacity at least sizeHint, backed by
// a pooled buffer when sizeHint fits an existing bucket.
func (p *Pool) Get(kind channel.MessageKind, sizeHint int) (*channel.Message, error) {
	if sizeHint < 0 {
		sizeHint = 0
	}
	b := p.bucketFor(sizeHint)
	var buf []byte
	if b == nil {
		buf = make([]byte, sizeHint)
	} else {
		buf = b.pool.Get().([]byte)[:sizeHint]
	}
	msg := channel.NewPooledMessage(kind, buf, p)
	return msg, nil
}

// Put returns msg's buffer to the bucket it came from, if any.
func (p *Pool) Put(msg *channel.Message) {
	buf := msg.Buf
	b := p.bucketFor(cap(buf))
	if b == nil || cap(buf) != b.size {
		return
	}
	b.pool.Put(buf[:cap(buf)])
}
