package feed

import (
	"fmt"
	"time"

	"learnhub/internal/domain"
)

// MergeResult описывает, что произошло с кэшем при слиянии.
type MergeResult int

const (
	// MergeInserted — сообщение добавлено в начало страницы 0.
	MergeInserted MergeResult = iota
	// MergeDuplicate — сообщение уже было в кэше, кэш не изменён.
	MergeDuplicate
	// MergeReconciled — оптимистичная запись заменена подтверждённой один к одному.
	MergeReconciled
)

func (r MergeResult) String() string {
	switch r {
	case MergeDuplicate:
		return "duplicate"
	case MergeReconciled:
		return "reconciled"
	default:
		return "inserted"
	}
}

// PageCache хранит страницы ленты, страница 0 — самая свежая.
// Не потокобезопасен, владелец сериализует доступ.
type PageCache struct {
	pages       [][]domain.FeedEntry
	lastFetched int
	loaded      bool
	// merged — подтверждённые сообщения, слитые в начало ленты после последнего Reset.
	merged map[string]struct{}
}

// NewPageCache создаёт пустой кэш.
func NewPageCache() *PageCache {
	return &PageCache{}
}

// Len возвращает количество загруженных страниц.
func (c *PageCache) Len() int { return len(c.pages) }

// NextPage возвращает индекс следующей страницы для загрузки.
func (c *PageCache) NextPage() int {
	if !c.loaded {
		return 0
	}
	return len(c.pages)
}

// Loaded сообщает, загружалась ли хотя бы одна страница.
func (c *PageCache) Loaded() bool { return c.loaded }

// HasMore сообщает, могут ли существовать следующие страницы.
// Решение принимается по длине последнего ответа сервера.
func (c *PageCache) HasMore() bool {
	if !c.loaded {
		return true
	}
	return c.lastFetched == domain.FeedPageSize
}

// SetPage кладёт результат загрузки страницы index. Повторная загрузка страницы
// отбрасывает все более старые страницы, так как их смещения больше не актуальны.
func (c *PageCache) SetPage(index int, msgs []domain.Message) error {
	if index < 0 || index > len(c.pages) {
		return fmt.Errorf("страница %d недоступна: загружено %d", index, len(c.pages))
	}

	var pending []domain.FeedEntry
	if index == 0 && len(c.pages) > 0 {
		pending = c.retainHead(c.pages[0], msgs)
	}

	seen := make(map[string]struct{})
	for _, e := range pending {
		seen[e.ID()] = struct{}{}
	}
	for _, page := range c.pages[:index] {
		for _, e := range page {
			seen[e.ID()] = struct{}{}
		}
	}

	entries := make([]domain.FeedEntry, 0, len(pending)+len(msgs))
	entries = append(entries, pending...)
	for _, msg := range msgs {
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		seen[msg.ID] = struct{}{}
		entries = append(entries, domain.Confirmed(msg))
	}

	c.pages = append(c.pages[:index], entries)
	c.lastFetched = len(msgs)
	c.loaded = true
	return nil
}

// retainHead отбирает записи страницы 0, которые переживают перезагрузку:
// неподтверждённые оптимистичные и слитые push-сообщения, которых ещё нет в fetched.
// Выборка страницы могла начаться до фиксации этих вставок.
func (c *PageCache) retainHead(page []domain.FeedEntry, fetched []domain.Message) []domain.FeedEntry {
	optimistic := pendingOptimistic(page, fetched)
	inFetched := make(map[string]struct{}, len(fetched))
	for _, msg := range fetched {
		inFetched[msg.ID] = struct{}{}
	}
	var newest time.Time
	if len(fetched) > 0 {
		newest = fetched[0].CreatedAt
	}

	kept := make(map[string]struct{})
	var out []domain.FeedEntry
	oi := 0
	for _, e := range page {
		if e.IsOptimistic() {
			if oi < len(optimistic) && optimistic[oi].ID() == e.ID() {
				out = append(out, e)
				oi++
			}
			continue
		}
		if _, ok := c.merged[e.ID()]; !ok {
			continue
		}
		if _, ok := inFetched[e.ID()]; ok {
			continue
		}
		if !newest.IsZero() && !e.Message.CreatedAt.IsZero() && e.Message.CreatedAt.Before(newest) {
			continue
		}
		out = append(out, e)
		kept[e.ID()] = struct{}{}
	}
	c.merged = kept
	return out
}

// pendingOptimistic возвращает оптимистичные записи, которые ещё не подтверждены сообщениями fetched.
func pendingOptimistic(page []domain.FeedEntry, fetched []domain.Message) []domain.FeedEntry {
	var out []domain.FeedEntry
	for _, e := range page {
		if !e.IsOptimistic() {
			continue
		}
		confirmed := false
		for _, msg := range fetched {
			if Reconcile(msg, e) == MatchOptimistic {
				confirmed = true
				break
			}
		}
		if !confirmed {
			out = append(out, e)
		}
	}
	return out
}

// AddOptimistic добавляет локальное сообщение в начало страницы 0.
func (c *PageCache) AddOptimistic(msg domain.Message) {
	c.prepend(domain.Optimistic(msg))
}

// Merge добавляет подтверждённое сообщение, не создавая дубликатов.
// Совпадение по идентификатору оставляет кэш без изменений, совпадение с
// оптимистичной записью заменяет её на месте. Повторное слияние того же
// сообщения всегда даёт MergeDuplicate.
func (c *PageCache) Merge(msg domain.Message) MergeResult {
	for _, page := range c.pages {
		for _, e := range page {
			if Reconcile(msg, e) == MatchSameID {
				return MergeDuplicate
			}
		}
	}
	if len(c.pages) > 0 {
		head := c.pages[0]
		// самая старая оптимистичная запись подтверждается первой
		for i := len(head) - 1; i >= 0; i-- {
			if Reconcile(msg, head[i]) == MatchOptimistic {
				head[i] = domain.Confirmed(msg)
				c.markMerged(msg.ID)
				return MergeReconciled
			}
		}
	}
	c.prepend(domain.Confirmed(msg))
	c.markMerged(msg.ID)
	return MergeInserted
}

func (c *PageCache) markMerged(id string) {
	if c.merged == nil {
		c.merged = make(map[string]struct{})
	}
	c.merged[id] = struct{}{}
}

// Remove удаляет запись по идентификатору.
func (c *PageCache) Remove(id string) bool {
	for p, page := range c.pages {
		for i, e := range page {
			if e.ID() == id {
				c.pages[p] = append(page[:i:i], page[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Page возвращает копию страницы index.
func (c *PageCache) Page(index int) []domain.FeedEntry {
	if index < 0 || index >= len(c.pages) {
		return nil
	}
	return append([]domain.FeedEntry(nil), c.pages[index]...)
}

// Entries возвращает все записи по убыванию свежести.
func (c *PageCache) Entries() []domain.FeedEntry {
	var out []domain.FeedEntry
	for _, page := range c.pages {
		out = append(out, page...)
	}
	return out
}

// Reset очищает кэш.
func (c *PageCache) Reset() {
	c.pages = nil
	c.lastFetched = 0
	c.loaded = false
	c.merged = nil
}

func (c *PageCache) prepend(e domain.FeedEntry) {
	if len(c.pages) == 0 {
		c.pages = [][]domain.FeedEntry{{e}}
		return
	}
	head := make([]domain.FeedEntry, 0, len(c.pages[0])+1)
	head = append(head, e)
	c.pages[0] = append(head, c.pages[0]...)
}
