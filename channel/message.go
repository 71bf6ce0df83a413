package channel

// MessageKind tags the purpose of a Message.
type MessageKind int32

const (
	// MessageKindApplicationData is ordinary application data flowing
	// through the pipeline.
	MessageKindApplicationData = MessageKind(iota)
	// MessageKindApplicationDataRead is application data specifically
	// produced by the read path, for handlers that treat the two
	// differently, e.g. to avoid double-counting window credit.
	MessageKindApplicationDataRead
	// MessageKindRaw is a raw, handler-defined payload with no pipeline-
	// level interpretation.
	MessageKindRaw
)

// MessageCompleteFn is invoked exactly once when a Message's lifecycle
// ends, regardless of whether delivery succeeded. userData is opaque to
// the core and supplied by whoever set the callback.
type MessageCompleteFn func(msg *Message, err error, userData any)

// Message is an I/O buffer that flows through the slot chain. Ownership
// starts with whoever allocated it (typically via a MessagePool) and
// transfers to the recipient slot's handler on a successful
// Slot.SendMessage; on error, the caller keeps ownership.
type Message struct {
	// Kind tags the purpose of the payload.
	Kind MessageKind

	// Buf is the payload. len(Buf) is the logical message length; the
	// backing array's capacity may exceed it (pool messages are often
	// over-allocated).
	Buf []byte

	// CopyMark is an optional offset into Buf from which a partial-copy
	// optimization may resume; -1 means unset. Handlers that fragment or
	// reassemble messages use this to avoid re-copying already-forwarded
	// bytes.
	CopyMark int

	onComplete MessageCompleteFn
	userData   any
	pool       MessagePool
}

// NewPooledMessage constructs a Message backed by buf, to be returned to
// pool on Release. MessagePool implementations use this to hand back
// Messages from Get; it is not needed by code that already holds a
// Message and just wants to read or forward it.
func NewPooledMessage(kind MessageKind, buf []byte, pool MessagePool) *Message {
	return &Message{Kind: kind, Buf: buf, CopyMark: -1, pool: pool}
}

// Len returns the logical length of the message payload.
func (m *Message) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Buf)
}

// SetCompleteFn installs (or clears, with nil) the on-completion callback.
func (m *Message) SetCompleteFn(fn MessageCompleteFn, userData any) {
	m.onComplete = fn
	m.userData = userData
}

// Release returns the message's buffer to its originating pool (if any)
// and fires the completion callback exactly once. Handlers that take
// ownership of a Message (from process_read_message / process_write_message)
// must eventually call Release.
func (m *Message) Release(err error) {
	if m == nil {
		return
	}
	if m.onComplete != nil {
		fn := m.onComplete
		m.onComplete = nil
		fn(m, err, m.userData)
	}
	if m.pool != nil {
		m.pool.Put(m)
	}
}
