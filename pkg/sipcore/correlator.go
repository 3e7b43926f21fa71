package sipcore

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Outcome — единственный результат принятой команды: либо успех с данными,
// либо ошибка с видом и сообщением. Сериализуется для хоста как есть.
type Outcome struct {
	Successful bool      `json:"successful"`
	Data       string    `json:"data,omitempty"`
	Kind       ErrorKind `json:"kind,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// SuccessOutcome создает успешный результат с данными
func SuccessOutcome(data string) Outcome {
	return Outcome{Successful: true, Data: data}
}

// FailureOutcome создает результат-ошибку, извлекая вид и сообщение из err
func FailureOutcome(err error) Outcome {
	return Outcome{
		Successful: false,
		Kind:       KindOf(err),
		Message:    MessageOf(err),
	}
}

// OutcomeFunc приемник результата команды. Вызывается ровно один раз,
// на воркере Dispatcher, не на горутине отправителя.
type OutcomeFunc func(Outcome)

// Correlator сопоставляет непрозрачный токен команды с её приемником
// результата.
//
// Register и Resolve легитимно вызываются из разных горутин: регистрация —
// из контекста вызывающего, разрешение — с воркера, поэтому карта ожидающих
// токенов потокобезопасна.
type Correlator struct {
	ids     *IDGen
	pending sync.Map // int -> OutcomeFunc
	count   atomic.Int64
}

// NewCorrelator создает коррелятор. ids может быть nil.
func NewCorrelator(ids *IDGen) *Correlator {
	if ids == nil {
		ids = NewIDGen()
	}
	return &Correlator{ids: ids}
}

// Register сохраняет приемник и немедленно возвращает токен.
// Не блокирует: ожидание результата — дело вызывающего.
func (c *Correlator) Register(sink OutcomeFunc) int {
	token := c.ids.Next()
	c.pending.Store(token, sink)
	c.count.Add(1)
	return token
}

// Resolve доставляет результат владельцу токена и уничтожает запись.
// Повторное или неизвестное разрешение — логическая ошибка: логируется,
// учитывается в метриках и не имеет других эффектов.
func (c *Correlator) Resolve(token int, out Outcome) {
	val, ok := c.pending.LoadAndDelete(token)
	if !ok {
		metricDuplicateResolutions.Inc()
		slog.Error("Correlator.Resolve: unknown or already resolved token",
			slog.Int("token", token),
			slog.Bool("successful", out.Successful))
		return
	}
	c.count.Add(-1)

	sink := val.(OutcomeFunc)
	if sink != nil {
		sink(out)
	}
}

// PendingCount возвращает число неразрешенных токенов
func (c *Correlator) PendingCount() int {
	return int(c.count.Load())
}
