package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"auction-logistics/internal/events"
	"auction-logistics/internal/platform/xerrors"
)

// fakeReader hands out queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	errs      []error
	committed []int64
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

type recorded struct {
	ev     events.DealEvent
	source string
}

type fakeRecorder struct {
	mu    sync.Mutex
	got   []recorded
	fails []error
	calls int
	done  chan struct{}
	want  int
}

func (r *fakeRecorder) Record(ctx context.Context, ev events.DealEvent, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.fails) > 0 {
		err := r.fails[0]
		r.fails = r.fails[1:]
		return err
	}
	r.got = append(r.got, recorded{ev, source})
	if len(r.got) == r.want {
		close(r.done)
	}
	return nil
}

func message(t *testing.T, key string, ev events.DealEvent, offset int64) kafka.Message {
	t.Helper()
	value, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(key), Value: value, Partition: 1, Offset: offset}
}

func TestConsumer_Run(t *testing.T) {
	reader := &fakeReader{
		errs: []error{errors.New("broker hiccup")},
		msgs: []kafka.Message{
			message(t, "deal.created.d1", events.DealEvent{DealID: "d1", ActorID: 2}, 10),
			{Key: []byte("order.created.5"), Value: []byte(`{}`), Offset: 11},
			{Key: []byte("deal.moved.d1"), Value: []byte(`{not json`), Offset: 12},
			message(t, "deal.won.d1", events.DealEvent{DealID: "other"}, 13),
			message(t, "deal.lost.d1", events.DealEvent{Type: events.DealMoved, DealID: "d1", Reason: "price"}, 14),
		},
	}
	rec := &fakeRecorder{done: make(chan struct{}), want: 2}

	c := NewConsumer(reader, rec)
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- c.Run(ctx) }()

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not record the valid messages")
	}
	cancel()
	require.NoError(t, <-stopped)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.got, 2)
	require.Equal(t, events.DealCreated, rec.got[0].ev.Type)
	require.Equal(t, "1:10", rec.got[0].source)

	// the key decides the type
	require.Equal(t, events.DealLost, rec.got[1].ev.Type)
	require.Equal(t, "price", rec.got[1].ev.Reason)
	require.Equal(t, "1:14", rec.got[1].source)

	// malformed messages are skipped and committed too
	require.Eventually(t, func() bool { return len(reader.commits()) == 5 }, time.Second, time.Millisecond)
	require.Equal(t, []int64{10, 11, 12, 13, 14}, reader.commits())
}

func TestConsumer_RetriesStorageErrorBeforeCommit(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		message(t, "deal.created.d1", events.DealEvent{DealID: "d1"}, 20),
	}}
	rec := &fakeRecorder{
		fails: []error{errors.New("mysql: connection refused")},
		done:  make(chan struct{}),
		want:  1,
	}

	c := NewConsumer(reader, rec)
	c.backoff = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- c.Run(ctx) }()

	// the first attempt failed, nothing may be committed yet
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.calls >= 1
	}, time.Second, time.Millisecond)
	require.Empty(t, reader.commits())

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not retry the failed message")
	}
	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-stopped)

	require.Equal(t, []int64{20}, reader.commits())
	require.Equal(t, "1:20", rec.got[0].source)
	require.Equal(t, 2, rec.calls)
}

func TestConsumer_SkipsInvalidEvent(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		message(t, "deal.created.d1", events.DealEvent{DealID: "d1"}, 30),
	}}
	rec := &fakeRecorder{fails: []error{fmt.Errorf("%w: bad event", xerrors.ErrInvalidInput)}}

	c := NewConsumer(reader, rec)
	c.backoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, 1, rec.calls)
	require.Empty(t, rec.got)
}

func TestConsumer_StopsWhileRetrying(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		message(t, "deal.created.d1", events.DealEvent{DealID: "d1"}, 40),
	}}
	rec := &fakeRecorder{fails: []error{errors.New("down"), errors.New("down"), errors.New("down")}}

	c := NewConsumer(reader, rec)
	c.backoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.calls == 1
	}, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-stopped)
	require.Empty(t, reader.commits())
}

func TestConsumer_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, NewConsumer(&fakeReader{}, &fakeRecorder{}).Run(ctx))
}
