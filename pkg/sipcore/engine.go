package sipcore

import (
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// Engine — узкий интерфейс внешнего протокольного движка (PJSIP, sipgo и т.п.).
// Один метод на вид команды. Ядро не знает, как движок ведет SIP транзакции:
// оно только отдает ему работу и принимает уведомления через EngineEvents.
//
// Методы вызываются исключительно на воркере Dispatcher, поэтому движку
// не требуется защита от конкурентных вызовов.
type Engine interface {
	// Register запускает (renew=true) или снимает (renew=false) регистрацию
	Register(acc *Account, renew bool) error
	// CloseAccount освобождает ресурсы движка для удаляемого аккаунта
	CloseAccount(acc *Account) error

	// Invite начинает исходящий диалог и возвращает его идентификатор.
	// msgData — дополнительные заголовки INVITE от хоста, может быть nil.
	Invite(call *Call, msgData map[string]string) (string, error)
	Answer(call *Call) error
	Decline(call *Call) error
	Hangup(call *Call) error
	Hold(call *Call) error
	Resume(call *Call) error
	// Ringing шлет предварительный 180 по входящему вызову
	Ringing(call *Call) error
	// Progress шлет предварительный 183 с ранним медиа по входящему вызову
	Progress(call *Call) error
	SendDTMF(call *Call, digits string) error
	Transfer(call *Call, target sip.Uri) error
	// TransferReplaces выполняет сопровождаемый перевод: удаленная сторона
	// вызова call замещает диалог вызова dest (REFER с Replaces)
	TransferReplaces(call *Call, dest *Call) error
	Redirect(call *Call, target sip.Uri) error

	SetCodecSettings(settings CodecSettings) error
	SetStunServers(acc *Account, servers []string) error
	SetNetworkConfig(cfg NetworkConfig) error
	SetServiceConfig(cfg ServiceConfig) error
}

// EngineEvents — уведомления движка о происходящем в сессиях.
// Один колбэк на вид события. Реализация (Service) переносит каждое
// уведомление на воркер перед любыми мутациями Registry.
type EngineEvents interface {
	// OnRegistrationState сообщает результат регистрации аккаунта
	OnRegistrationState(accountID int, registered bool, code int, reason string, expiration, retryAfter int)
	// OnIncomingCall сообщает о входящем вызове. offer — SDP удаленной стороны.
	OnIncomingCall(accountID int, dialogID, remote, offer string)
	// OnCallState сообщает о смене состояния диалога
	OnCallState(dialogID string, state CallState, statusCode int, reason string)
	// OnCallMedia сообщает об обновлении медиапараметров диалога
	OnCallMedia(dialogID, offer string)
	// OnMessage сообщает о входящем MESSAGE
	OnMessage(accountID int, msg Message)
	// OnConnectivityChanged сообщает о смене доступности сети
	OnConnectivityChanged(available bool)
}

// NullEngine — заглушка движка: все операции успешны и ничего не делают.
// Используется в тестах и демо, пока не подключен реальный протокольный стек.
type NullEngine struct{}

// Проверяем, что NullEngine реализует интерфейс Engine
var _ Engine = (*NullEngine)(nil)

// NewNullEngine создает заглушку движка
func NewNullEngine() *NullEngine {
	return &NullEngine{}
}

func (e *NullEngine) Register(acc *Account, renew bool) error { return nil }
func (e *NullEngine) CloseAccount(acc *Account) error         { return nil }

// Invite назначает диалогу случайный идентификатор
func (e *NullEngine) Invite(call *Call, msgData map[string]string) (string, error) {
	return uuid.NewString(), nil
}

func (e *NullEngine) Answer(call *Call) error                       { return nil }
func (e *NullEngine) Decline(call *Call) error                      { return nil }
func (e *NullEngine) Hangup(call *Call) error                       { return nil }
func (e *NullEngine) Hold(call *Call) error                         { return nil }
func (e *NullEngine) Resume(call *Call) error                       { return nil }
func (e *NullEngine) Ringing(call *Call) error                      { return nil }
func (e *NullEngine) Progress(call *Call) error                     { return nil }
func (e *NullEngine) SendDTMF(call *Call, digits string) error      { return nil }
func (e *NullEngine) Transfer(call *Call, target sip.Uri) error     { return nil }
func (e *NullEngine) TransferReplaces(call *Call, dest *Call) error { return nil }
func (e *NullEngine) Redirect(call *Call, target sip.Uri) error     { return nil }
func (e *NullEngine) SetCodecSettings(settings CodecSettings) error { return nil }
func (e *NullEngine) SetStunServers(acc *Account, servers []string) error {
	return nil
}
func (e *NullEngine) SetNetworkConfig(cfg NetworkConfig) error { return nil }
func (e *NullEngine) SetServiceConfig(cfg ServiceConfig) error { return nil }
