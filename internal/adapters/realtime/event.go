// Package realtime реализует push-подписки на изменения строк поверх
// Postgres LISTEN/NOTIFY, Redis Pub/Sub и RabbitMQ.
//
// Все транспорты передают одно и то же JSON-представление domain.ChangeEvent:
//
//	{"table":"community_messages","type":"INSERT","id":"<uuid>","record":{"channel_id":"<uuid>"}}
//
// Фильтрация по SubscribeRequest выполняется на стороне подписчика.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"learnhub/internal/domain"
)

var errNoRowID = errors.New("событие без идентификатора строки")

// EncodeEvent сериализует событие для публикации.
func EncodeEvent(ev domain.ChangeEvent) ([]byte, error) {
	if ev.RowID == "" {
		return nil, errNoRowID
	}
	return json.Marshal(ev)
}

// DecodeEvent разбирает payload уведомления.
func DecodeEvent(payload []byte) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("разбор события: %w", err)
	}
	if ev.RowID == "" {
		return domain.ChangeEvent{}, errNoRowID
	}
	return ev, nil
}
