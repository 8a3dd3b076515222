package memory

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

const (
	busBuffer     = 64
	streamMaxKeep = 10000
)

// Bus is a process-local domain.SignalBus used when Redis is not
// configured. Channel names may be glob patterns ("ledger:*") on the
// subscribe side. Slow subscribers drop messages rather than block
// publishers.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]subscription
	nextSub int
	streams map[string][]domain.StreamMessage
	seq     map[string]int64
}

type subscription struct {
	pattern string
	ch      chan []byte
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[int]subscription),
		streams: make(map[string][]domain.StreamMessage),
		seq:     make(map[string]int64),
	}
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe delivers messages until ctx is done, then closes the channel.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, busBuffer)
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = subscription{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[stream]++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(b.seq[stream], 10),
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > streamMaxKeep {
		msgs = msgs[len(msgs)-streamMaxKeep:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count messages after lastID. "0" or "" reads
// from the start.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, _ := strconv.ParseInt(lastID, 10, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseInt(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*Bus)(nil)
