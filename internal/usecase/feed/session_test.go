package feed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"learnhub/internal/domain"
)

func headID(s *Session) string {
	page := s.Page(0)
	if len(page) == 0 {
		return ""
	}
	return page[0].ID()
}

func TestSessionWithoutChannel(t *testing.T) {
	repo := newFakeRepo(nil)
	feed := &fakeFeed{}
	s := NewSession("", repo, feed, zerolog.Nop())

	msgs, err := s.Load(context.Background(), 0)
	if err != nil || msgs != nil {
		t.Fatalf("ожидали пустой результат без ошибки, получили %v %v", msgs, err)
	}
	if err := s.Subscribe(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	more, err := s.LoadNext(context.Background())
	if err != nil || more {
		t.Fatalf("ожидали отсутствие страниц: %v %v", more, err)
	}
	if s.State() != StateUnsubscribed || s.HasMore() {
		t.Fatalf("сессия без канала должна оставаться неподписанной")
	}
	if list, _ := repo.calls(); list != 0 {
		t.Fatalf("загрузка без канала не должна обращаться к хранилищу")
	}
	if n, _, _ := feed.counts(); n != 0 {
		t.Fatalf("подписка без канала не должна открываться")
	}
}

func TestSessionLoadNextStopsOnShortPage(t *testing.T) {
	repo := newFakeRepo(batch("m", 70))
	s := NewSession("c1", repo, &fakeFeed{}, zerolog.Nop())
	ctx := context.Background()

	more, err := s.LoadNext(ctx)
	if err != nil || !more {
		t.Fatalf("после первой страницы ожидали продолжение: %v %v", more, err)
	}
	more, err = s.LoadNext(ctx)
	if err != nil || more {
		t.Fatalf("после неполной страницы ожидали конец: %v %v", more, err)
	}
	more, err = s.LoadNext(ctx)
	if err != nil || more {
		t.Fatalf("ожидали конец: %v %v", more, err)
	}
	if list, _ := repo.calls(); list != 2 {
		t.Fatalf("ожидали 2 запроса, получили %d", list)
	}
	if got := len(s.Snapshot()); got != 70 {
		t.Fatalf("ожидали 70 записей, получили %d", got)
	}
}

func TestSessionExactPageReportsMore(t *testing.T) {
	repo := newFakeRepo(batch("m", domain.FeedPageSize))
	s := NewSession("c1", repo, &fakeFeed{}, zerolog.Nop())

	if _, err := s.Load(context.Background(), 0); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !s.HasMore() {
		t.Fatalf("ровно 50 записей означает, что могут быть ещё")
	}
	more, err := s.LoadNext(context.Background())
	if err != nil || more {
		t.Fatalf("пустая страница завершает ленту: %v %v", more, err)
	}
}

func TestSessionLoadError(t *testing.T) {
	repo := newFakeRepo(nil)
	boom := errors.New("boom")
	s := NewSession("c1", &failingList{fakeRepo: repo, err: boom}, &fakeFeed{}, zerolog.Nop())
	if _, err := s.Load(context.Background(), 0); !errors.Is(err, boom) {
		t.Fatalf("ожидали boom, получили %v", err)
	}
}

type failingList struct {
	*fakeRepo
	err error
}

func (f *failingList) ListChannelMessages(context.Context, string, int, int) ([]domain.Message, error) {
	return nil, f.err
}

func TestSessionSubscribeMergesInserts(t *testing.T) {
	repo := newFakeRepo(batch("m", 3))
	feed := &fakeFeed{}
	s := NewSession("c1", repo, feed, zerolog.Nop())
	ctx := context.Background()
	defer s.Close()

	if _, err := s.Load(ctx, 0); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if s.State() != StateSubscribed {
		t.Fatalf("ожидали subscribed, получили %s", s.State())
	}
	req := feed.reqs[0]
	if req.Table != "community_messages" || req.Event != domain.ChangeInsert || req.Filter.String() != "channel_id=eq.c1" {
		t.Fatalf("неожиданная подписка: %+v", req)
	}

	repo.store(msg("fresh", "новое", "u2"))
	feed.last().push("fresh")
	waitFor(t, "новое сообщение в начале ленты", func() bool { return headID(s) == "fresh" })
	if got := len(s.Page(0)); got != 4 {
		t.Fatalf("ожидали 4 записи, получили %d", got)
	}
	select {
	case <-s.Updates():
	default:
		t.Fatalf("ожидали сигнал об обновлении")
	}
}

func TestSessionDuplicateEventsAreIdempotent(t *testing.T) {
	repo := newFakeRepo(nil)
	feed := &fakeFeed{}
	s := NewSession("c1", repo, feed, zerolog.Nop())
	ctx := context.Background()
	defer s.Close()

	_, _ = s.Load(ctx, 0)
	_ = s.Subscribe(ctx)
	repo.store(msg("m1", "a", "u1"))
	repo.store(msg("m2", "b", "u1"))
	sub := feed.last()
	for i := 0; i < 3; i++ {
		sub.push("m1")
	}
	sub.push("m2")
	waitFor(t, "последнее событие обработано", func() bool { return headID(s) == "m2" })

	got := ids(s.Snapshot())
	if len(got) != 2 || got[1] != "m1" {
		t.Fatalf("ожидали [m2 m1], получили %v", got)
	}
}

func TestSessionDropsFailedRefetch(t *testing.T) {
	repo := newFakeRepo(nil)
	repo.getErr["bad"] = errors.New("timeout")
	feed := &fakeFeed{}
	s := NewSession("c1", repo, feed, zerolog.Nop())
	ctx := context.Background()
	defer s.Close()

	_, _ = s.Load(ctx, 0)
	_ = s.Subscribe(ctx)
	repo.store(msg("good", "ok", "u1"))
	sub := feed.last()
	sub.push("bad")
	sub.push("good")
	waitFor(t, "событие после сбоя обработано", func() bool { return headID(s) == "good" })

	if got := ids(s.Snapshot()); len(got) != 1 {
		t.Fatalf("сообщение со сбоем не должно попасть в ленту: %v", got)
	}
	if s.State() != StateSubscribed {
		t.Fatalf("сбой дочитывания не должен рвать подписку")
	}
}

func TestSessionIgnoresOtherChannel(t *testing.T) {
	repo := newFakeRepo(nil)
	feed := &fakeFeed{}
	s := NewSession("c1", repo, feed, zerolog.Nop())
	ctx := context.Background()
	defer s.Close()

	_, _ = s.Load(ctx, 0)
	_ = s.Subscribe(ctx)
	foreign := msg("x", "чужое", "u1")
	foreign.ChannelID = "c2"
	repo.store(foreign)
	repo.store(msg("own", "своё", "u1"))
	sub := feed.last()
	sub.push("x")
	sub.push("own")
	waitFor(t, "своё сообщение", func() bool { return headID(s) == "own" })
	if got := ids(s.Snapshot()); len(got) != 1 {
		t.Fatalf("сообщение другого канала попало в ленту: %v", got)
	}
}

func TestSessionSendReconcilesWithPush(t *testing.T) {
	repo := newFakeRepo(nil)
	repo.insertGate = make(chan struct{})
	repo.insertID = "M1"
	feed := &fakeFeed{}
	s := NewSession("c1", repo, feed, zerolog.Nop())
	ctx := context.Background()
	defer s.Close()

	msgs, err := s.Load(ctx, 0)
	if err != nil || len(msgs) != 0 || s.HasMore() {
		t.Fatalf("пустой канал: %v %v more=%v", msgs, err, s.HasMore())
	}
	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	type result struct {
		msg domain.Message
		err error
	}
	sent := make(chan result, 1)
	go func() {
		m, err := s.Send(ctx, "U1", "hi", nil, nil)
		sent <- result{m, err}
	}()
	waitFor(t, "оптимистичная запись", func() bool {
		page := s.Page(0)
		return len(page) == 1 && page[0].IsOptimistic() && domain.IsTempID(page[0].ID())
	})

	// push приходит раньше ответа на вставку
	repo.store(msg("M1", "hi", "U1"))
	feed.last().push("M1")
	waitFor(t, "подтверждение через push", func() bool { return headID(s) == "M1" })

	close(repo.insertGate)
	res := <-sent
	if res.err != nil || res.msg.ID != "M1" {
		t.Fatalf("неожиданный результат отправки: %+v", res)
	}
	page := s.Page(0)
	if len(page) != 1 || page[0].ID() != "M1" || page[0].IsOptimistic() {
		t.Fatalf("ожидали ровно [M1], получили %v", ids(page))
	}
}

func TestSessionSendFailureRemovesOptimistic(t *testing.T) {
	repo := newFakeRepo(nil)
	repo.insertErr = errors.New("insert failed")
	s := NewSession("c1", repo, &fakeFeed{}, zerolog.Nop())
	defer s.Close()

	if _, err := s.Send(context.Background(), "u1", "hi", nil, nil); err == nil {
		t.Fatalf("ожидали ошибку")
	}
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("оптимистичная запись должна быть удалена: %v", ids(got))
	}
}

func TestSessionSendValidation(t *testing.T) {
	s := NewSession("c1", newFakeRepo(nil), &fakeFeed{}, zerolog.Nop())
	defer s.Close()
	if _, err := s.Send(context.Background(), "", "hi", nil, nil); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("ожидали ErrUnauthenticated, получили %v", err)
	}
	if _, err := s.Send(context.Background(), "u1", "  ", nil, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("ожидали ErrInvalidArgument, получили %v", err)
	}
	long := strings.Repeat("я", domain.MaxMessageRunes+1)
	if _, err := s.Send(context.Background(), "u1", long, nil, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("ожидали ErrInvalidArgument для длинного сообщения, получили %v", err)
	}
	if len(s.Snapshot()) != 0 {
		t.Fatalf("отклонённое сообщение не должно попадать в ленту")
	}
}

func TestSessionSubscribeFailure(t *testing.T) {
	feed := &fakeFeed{err: errors.New("refused")}
	s := NewSession("c1", newFakeRepo(nil), feed, zerolog.Nop())
	defer s.Close()
	if err := s.Subscribe(context.Background()); err == nil {
		t.Fatalf("ожидали ошибку подписки")
	}
	if s.State() != StateUnsubscribed {
		t.Fatalf("после ошибки ожидали unsubscribed, получили %s", s.State())
	}
}

func TestSessionCloseReleasesSubscription(t *testing.T) {
	feed := &fakeFeed{}
	s := NewSession("c1", newFakeRepo(nil), feed, zerolog.Nop())
	ctx := context.Background()
	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	sub := feed.last()

	if err := s.Close(); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !sub.isClosed() {
		t.Fatalf("подписка должна быть закрыта")
	}
	if _, active, _ := feed.counts(); active != 0 {
		t.Fatalf("осталось %d активных подписок", active)
	}
	if _, ok := <-s.Updates(); ok {
		t.Fatalf("канал обновлений должен быть закрыт")
	}
	if _, err := s.Load(ctx, 0); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("ожидали ErrSessionClosed, получили %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("повторное закрытие: %v", err)
	}
}

func TestSessionUnsubscribeThenResubscribe(t *testing.T) {
	feed := &fakeFeed{}
	s := NewSession("c1", newFakeRepo(nil), feed, zerolog.Nop())
	ctx := context.Background()
	defer s.Close()

	_ = s.Subscribe(ctx)
	_ = s.Subscribe(ctx)
	if n, _, _ := feed.counts(); n != 1 {
		t.Fatalf("повторный Subscribe не должен открывать вторую подписку")
	}
	if err := s.Unsubscribe(); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if s.State() != StateUnsubscribed {
		t.Fatalf("ожидали unsubscribed")
	}
	_ = s.Subscribe(ctx)
	if n, active, maxActive := feed.counts(); n != 2 || active != 1 || maxActive != 1 {
		t.Fatalf("подписки: всего %d, активных %d, максимум %d", n, active, maxActive)
	}
}

func TestSessionStaleLoadDiscarded(t *testing.T) {
	repo := newFakeRepo(nil)
	repo.hold = make(chan struct{})
	repo.started = make(chan struct{})
	repo.responses = [][]domain.Message{
		{msg("old", "устаревшее", "u1")},
		{msg("new", "актуальное", "u1")},
	}
	s := NewSession("c1", repo, &fakeFeed{}, zerolog.Nop())
	ctx := context.Background()
	defer s.Close()

	done := make(chan error, 1)
	go func() {
		_, err := s.Load(ctx, 0)
		done <- err
	}()
	<-repo.started

	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	close(repo.hold)
	if err := <-done; err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got := ids(s.Snapshot())
	if len(got) != 1 || got[0] != "new" {
		t.Fatalf("устаревший результат попал в кэш: %v", got)
	}
}

func TestSessionRefreshKeepsPendingOptimistic(t *testing.T) {
	repo := newFakeRepo(batch("m", 2))
	repo.insertGate = make(chan struct{})
	s := NewSession("c1", repo, &fakeFeed{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer s.Close()

	_, _ = s.Load(ctx, 0)
	go func() { _, _ = s.Send(ctx, "u1", "в пути", nil, nil) }()
	waitFor(t, "оптимистичная запись", func() bool { return domain.IsTempID(headID(s)) })

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !domain.IsTempID(headID(s)) || len(s.Snapshot()) != 3 {
		t.Fatalf("оптимистичная запись потерялась: %v", ids(s.Snapshot()))
	}
	cancel()
}

func TestSessionRefreshKeepsPushDuringFetch(t *testing.T) {
	repo := newFakeRepo(batch("m", 2))
	repo.hold = make(chan struct{})
	repo.started = make(chan struct{})
	feed := &fakeFeed{}
	s := NewSession("c1", repo, feed, zerolog.Nop())
	ctx := context.Background()
	defer s.Close()

	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Refresh(ctx) }()
	<-repo.started

	repo.store(msg("fresh", "новое", "u2"))
	feed.last().push("fresh")
	waitFor(t, "push во время обновления", func() bool { return headID(s) == "fresh" })

	close(repo.hold)
	if err := <-done; err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got := ids(s.Snapshot())
	if len(got) != 3 || got[0] != "fresh" {
		t.Fatalf("подтверждённое сообщение потерялось при обновлении: %v", got)
	}
}
