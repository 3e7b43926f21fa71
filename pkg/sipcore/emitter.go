package sipcore

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// EventKind вид события сессии
type EventKind string

const (
	EventRegistrationChanged EventKind = "registration_changed"
	EventCallReceived        EventKind = "call_received"
	EventCallChanged         EventKind = "call_changed"
	EventCallTerminated      EventKind = "call_terminated"
	EventMessageReceived     EventKind = "message_received"
	EventConnectivityChanged EventKind = "connectivity_changed"
	EventCallScreenLocked    EventKind = "call_screen_locked"
)

// Event событие сессии с сериализованным снимком затронутой сущности.
// Payload всегда полный снимок, не дифф: слушатель восстанавливает
// состояние из последнего события без проигрывания истории.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EventHandler обработчик событий подписчика. Вызывается на воркере,
// долгие операции обработчик обязан уносить к себе.
type EventHandler func(Event)

// CallReceivedPayload полезная нагрузка события call_received
type CallReceivedPayload struct {
	Account AccountSnapshot `json:"account"`
	Call    CallSnapshot    `json:"call"`
}

// MessageReceivedPayload полезная нагрузка события message_received
type MessageReceivedPayload struct {
	Account AccountSnapshot `json:"account"`
	Message Message         `json:"message"`
}

// ConnectivityPayload полезная нагрузка события connectivity_changed
type ConnectivityPayload struct {
	Available bool `json:"available"`
}

// ScreenLockPayload полезная нагрузка события call_screen_locked
type ScreenLockPayload struct {
	Lock bool `json:"lock"`
}

// Emitter рассылает события сессий всем текущим подписчикам в порядке
// публикации. Доставка best-effort: подписавшийся после события его
// не получит, это push-модель без журнала.
//
// Подписка и отписка могут происходить конкурентно с публикацией,
// публикация работает по снимку списка подписчиков.
type Emitter struct {
	mu          sync.Mutex
	seq         int
	subscribers map[int]EventHandler
}

// NewEmitter создает эмиттер без подписчиков
func NewEmitter() *Emitter {
	return &Emitter{subscribers: make(map[int]EventHandler)}
}

// Subscribe добавляет обработчик и возвращает id подписки
func (e *Emitter) Subscribe(h EventHandler) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.subscribers[e.seq] = h
	return e.seq
}

// Unsubscribe удаляет подписку. Неизвестный id игнорируется.
func (e *Emitter) Unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subscribers, id)
}

// publish сериализует payload и доставляет событие снимку подписчиков.
// Ошибка сериализации логируется, событие этого цикла отбрасывается
// без повторов.
func (e *Emitter) publish(kind EventKind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Emitter.publish: failed to marshal event payload, event dropped",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return
	}

	e.mu.Lock()
	handlers := make([]EventHandler, 0, len(e.subscribers))
	for _, h := range e.subscribers {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	metricEventsTotal.WithLabelValues(string(kind)).Inc()
	ev := Event{Kind: kind, Payload: data}
	for _, h := range handlers {
		h(ev)
	}
}

// PublishRegistrationChanged рассылает снимок аккаунта после смены регистрации
func (e *Emitter) PublishRegistrationChanged(acc AccountSnapshot) {
	e.publish(EventRegistrationChanged, acc)
}

// PublishCallReceived рассылает пару аккаунт+вызов для входящего вызова
func (e *Emitter) PublishCallReceived(acc AccountSnapshot, call CallSnapshot) {
	e.publish(EventCallReceived, CallReceivedPayload{Account: acc, Call: call})
}

// PublishCallChanged рассылает снимок вызова после смены его состояния
func (e *Emitter) PublishCallChanged(call CallSnapshot) {
	e.publish(EventCallChanged, call)
}

// PublishCallTerminated рассылает финальный снимок вызова.
// Публикуется до удаления вызова из Registry, ровно один раз на вызов.
func (e *Emitter) PublishCallTerminated(call CallSnapshot) {
	e.publish(EventCallTerminated, call)
}

// PublishMessageReceived рассылает входящее сообщение вместе со снимком аккаунта
func (e *Emitter) PublishMessageReceived(acc AccountSnapshot, msg Message) {
	e.publish(EventMessageReceived, MessageReceivedPayload{Account: acc, Message: msg})
}

// PublishConnectivityChanged рассылает смену доступности сети
func (e *Emitter) PublishConnectivityChanged(available bool) {
	e.publish(EventConnectivityChanged, ConnectivityPayload{Available: available})
}

// PublishCallScreenLocked рассылает смену блокировки экрана вызова
func (e *Emitter) PublishCallScreenLocked(lock bool) {
	e.publish(EventCallScreenLocked, ScreenLockPayload{Lock: lock})
}
