package domain

import "strings"

// FeedPageSize — размер страницы ленты сообщений.
const FeedPageSize = 50

// TempIDPrefix отмечает идентификаторы оптимистичных сообщений.
const TempIDPrefix = "temp-"

// IsTempID сообщает, выдан ли идентификатор клиентом до подтверждения сервером.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// EntryKind различает подтверждённые и оптимистичные записи ленты.
type EntryKind int

const (
	EntryConfirmed EntryKind = iota
	EntryOptimistic
)

func (k EntryKind) String() string {
	if k == EntryOptimistic {
		return "optimistic"
	}
	return "confirmed"
}

// FeedEntry — запись кэша ленты: либо Optimistic{tempID, content, author}, либо Confirmed{id, content, author}.
type FeedEntry struct {
	Kind    EntryKind
	Message Message
}

// Optimistic оборачивает локально созданное сообщение.
func Optimistic(msg Message) FeedEntry {
	return FeedEntry{Kind: EntryOptimistic, Message: msg}
}

// Confirmed оборачивает сообщение, полученное с сервера.
func Confirmed(msg Message) FeedEntry {
	return FeedEntry{Kind: EntryConfirmed, Message: msg}
}

// ID возвращает идентификатор записи (временный для оптимистичных).
func (e FeedEntry) ID() string { return e.Message.ID }

// Content возвращает текст сообщения.
func (e FeedEntry) Content() string { return e.Message.Content }

// AuthorID возвращает идентификатор автора.
func (e FeedEntry) AuthorID() string { return e.Message.UserID }

// IsOptimistic сообщает, ожидает ли запись подтверждения.
func (e FeedEntry) IsOptimistic() bool { return e.Kind == EntryOptimistic }

// ChangeType — тип изменения строки в хранилище.
type ChangeType string

// ChangeInsert — вставка строки; лента подписывается только на вставки.
const ChangeInsert ChangeType = "INSERT"

// ChangeFilter — равенство по колонке внешнего ключа, например channel_id=eq.<id>.
type ChangeFilter struct {
	Column string
	Value  string
}

// String возвращает фильтр в нотации column=eq.value.
func (f ChangeFilter) String() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// SubscribeRequest описывает подписку на изменения таблицы.
type SubscribeRequest struct {
	Table  string
	Event  ChangeType
	Filter ChangeFilter
}

// ChangeEvent — уведомление о закоммиченной строке.
type ChangeEvent struct {
	Table  string            `json:"table"`
	Type   ChangeType        `json:"type"`
	RowID  string            `json:"id"`
	Record map[string]string `json:"record,omitempty"`
}

// Matches проверяет, попадает ли событие под запрос подписки.
func (r SubscribeRequest) Matches(ev ChangeEvent) bool {
	if r.Table != "" && ev.Table != r.Table {
		return false
	}
	if r.Event != "" && ev.Type != r.Event {
		return false
	}
	if r.Filter.Column == "" {
		return true
	}
	return ev.Record[r.Filter.Column] == r.Filter.Value
}
