package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"learnhub/internal/domain"
)

type fakeRepo struct {
	mu        sync.Mutex
	byID      map[string]domain.Message
	channel   []domain.Message
	responses [][]domain.Message
	listCalls int
	getCalls  int
	getErr    map[string]error

	// hold блокирует первый вызов ListChannelMessages до закрытия.
	hold    chan struct{}
	started chan struct{}

	insertGate chan struct{}
	insertErr  error
	insertID   string
	inserted   []domain.NewMessage
}

func newFakeRepo(channel []domain.Message) *fakeRepo {
	r := &fakeRepo{byID: map[string]domain.Message{}, channel: channel, getErr: map[string]error{}}
	for _, m := range channel {
		r.byID[m.ID] = m
	}
	return r
}

func (r *fakeRepo) store(m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[m.ID] = m
}

func (r *fakeRepo) ListChannelMessages(ctx context.Context, channelID string, from, to int) ([]domain.Message, error) {
	r.mu.Lock()
	r.listCalls++
	n := r.listCalls
	var hold chan struct{}
	if n == 1 {
		hold = r.hold
	}
	r.mu.Unlock()

	if hold != nil {
		close(r.started)
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if n-1 < len(r.responses) {
		return r.responses[n-1], nil
	}
	if from >= len(r.channel) {
		return nil, nil
	}
	end := to + 1
	if end > len(r.channel) {
		end = len(r.channel)
	}
	return append([]domain.Message(nil), r.channel[from:end]...), nil
}

func (r *fakeRepo) GetMessage(_ context.Context, id string) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if err := r.getErr[id]; err != nil {
		return domain.Message{}, err
	}
	m, ok := r.byID[id]
	if !ok {
		return domain.Message{}, domain.ErrNotFound
	}
	return m, nil
}

func (r *fakeRepo) InsertMessage(ctx context.Context, in domain.NewMessage) (domain.Message, error) {
	if r.insertGate != nil {
		select {
		case <-r.insertGate:
		case <-ctx.Done():
			return domain.Message{}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return domain.Message{}, r.insertErr
	}
	r.inserted = append(r.inserted, in)
	id := in.ID
	if r.insertID != "" {
		id = r.insertID
	}
	saved := domain.Message{ID: id, ChannelID: in.ChannelID, UserID: in.UserID, Content: in.Content, ParentID: in.ParentID}
	r.byID[id] = saved
	return saved, nil
}

func (r *fakeRepo) ListReplies(context.Context, string) ([]domain.Message, error) { return nil, nil }

func (r *fakeRepo) ListBookmarked(context.Context, string, int) ([]domain.Message, error) {
	return nil, nil
}

func (r *fakeRepo) calls() (list, get int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls, r.getCalls
}

type fakeSub struct {
	feed   *fakeFeed
	events chan domain.ChangeEvent
	once   sync.Once
	closed chan struct{}
}

func (s *fakeSub) Events() <-chan domain.ChangeEvent { return s.events }

func (s *fakeSub) Err() error { return nil }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		close(s.closed)
		close(s.events)
		s.feed.mu.Lock()
		s.feed.active--
		s.feed.mu.Unlock()
	})
	return nil
}

func (s *fakeSub) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSub) push(id string) {
	s.events <- domain.ChangeEvent{Table: MessagesTable, Type: domain.ChangeInsert, RowID: id}
}

type fakeFeed struct {
	mu        sync.Mutex
	err       error
	reqs      []domain.SubscribeRequest
	subs      []*fakeSub
	active    int
	maxActive int
}

func (f *fakeFeed) Subscribe(_ context.Context, req domain.SubscribeRequest) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := &fakeSub{feed: f, events: make(chan domain.ChangeEvent, 16), closed: make(chan struct{})}
	f.reqs = append(f.reqs, req)
	f.subs = append(f.subs, sub)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	return sub, nil
}

func (f *fakeFeed) last() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeFeed) counts() (subscribes, active, maxActive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs), f.active, f.maxActive
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("не дождались: %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
