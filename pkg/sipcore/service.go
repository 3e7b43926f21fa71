package sipcore

import (
	"log/slog"
)

// Service — фасад ядра: единственная точка входа для хоста и для движка.
//
// Команды хоста принимаются неблокирующими методами; каждый метод регистрирует
// приемник результата, ставит команду в очередь воркера и немедленно возвращает
// корреляционный токен. Результат придет ровно один раз через приемник.
//
// Уведомления движка (реализация EngineEvents) переносятся на тот же воркер
// перед любыми мутациями реестра: команда и уведомление никогда не исполняются
// одновременно.
type Service struct {
	registry   *Registry
	correlator *Correlator
	emitter    *Emitter
	dispatcher *Dispatcher
}

// Проверяем, что Service реализует интерфейс уведомлений движка
var _ EngineEvents = (*Service)(nil)

// NewService собирает ядро вокруг движка и запускает воркер.
// queueSize <= 0 — размер очереди по умолчанию.
func NewService(engine Engine, queueSize int) *Service {
	if engine == nil {
		engine = NewNullEngine()
	}

	ids := NewIDGen()
	registry := NewRegistry(ids)
	correlator := NewCorrelator(ids)
	emitter := NewEmitter()
	dispatcher := NewDispatcher(registry, correlator, emitter, engine, queueSize)

	s := &Service{
		registry:   registry,
		correlator: correlator,
		emitter:    emitter,
		dispatcher: dispatcher,
	}
	dispatcher.Start()
	return s
}

// Close останавливает воркер. Команды, оставшиеся в очереди, разрешаются
// ошибкой. После Close сервис использовать нельзя.
func (s *Service) Close() {
	s.dispatcher.Close()
}

// Subscribe добавляет обработчик событий сессий и возвращает id подписки
func (s *Service) Subscribe(h EventHandler) int {
	return s.emitter.Subscribe(h)
}

// Unsubscribe удаляет подписку на события
func (s *Service) Unsubscribe(id int) {
	s.emitter.Unsubscribe(id)
}

// dispatch регистрирует приемник результата и ставит команду в очередь
func (s *Service) dispatch(kind CommandKind, payload any, sink OutcomeFunc) int {
	token := s.correlator.Register(sink)
	s.dispatcher.Dispatch(Command{Kind: kind, Token: token, Payload: payload})
	return token
}

// Start запускает сервис и возвращает полный снимок состояния ядра.
// Повторный Start безопасен: состояние не сбрасывается, снимок отражает
// все живые аккаунты и вызовы. cfg может быть nil.
func (s *Service) Start(cfg *ServiceConfig, sink OutcomeFunc) int {
	return s.dispatch(CommandStart, StartPayload{Config: cfg}, sink)
}

// SetServiceConfiguration применяет конфигурацию сервиса
func (s *Service) SetServiceConfiguration(cfg ServiceConfig, sink OutcomeFunc) int {
	return s.dispatch(CommandSetServiceConfiguration, ServiceConfigPayload{Config: cfg}, sink)
}

// CreateAccount создает аккаунт и возвращает его снимок в результате
func (s *Service) CreateAccount(cfg AccountConfig, sink OutcomeFunc) int {
	return s.dispatch(CommandCreateAccount, AccountCreatePayload{Config: cfg}, sink)
}

// RegisterAccount запускает (renew=true) или снимает (renew=false) регистрацию.
// Результат подтверждает только прием запроса движком; фактическая смена
// состояния придет событием registration_changed.
func (s *Service) RegisterAccount(accountID int, renew bool, sink OutcomeFunc) int {
	return s.dispatch(CommandRegisterAccount, AccountRegisterPayload{AccountID: accountID, Renew: renew}, sink)
}

// DeleteAccount удаляет аккаунт. Аккаунт с живыми вызовами удалить нельзя.
func (s *Service) DeleteAccount(accountID int, sink OutcomeFunc) int {
	return s.dispatch(CommandDeleteAccount, AccountDeletePayload{AccountID: accountID}, sink)
}

// MakeCall начинает исходящий вызов. destination — SIP URI или голое имя
// пользователя, которое дополнится доменом аккаунта. settings может быть nil.
func (s *Service) MakeCall(accountID int, destination string, settings *CallSettings, msgData map[string]string, sink OutcomeFunc) int {
	return s.dispatch(CommandMakeCall, CallMakePayload{
		AccountID:   accountID,
		Destination: destination,
		Settings:    settings,
		MsgData:     msgData,
	}, sink)
}

// AnswerCall отвечает на входящий вызов
func (s *Service) AnswerCall(callID int, sink OutcomeFunc) int {
	return s.dispatch(CommandAnswerCall, CallPayload{CallID: callID}, sink)
}

// DeclineCall отклоняет входящий вызов
func (s *Service) DeclineCall(callID int, sink OutcomeFunc) int {
	return s.dispatch(CommandDeclineCall, CallPayload{CallID: callID}, sink)
}

// HangupCall завершает вызов
func (s *Service) HangupCall(callID int, sink OutcomeFunc) int {
	return s.dispatch(CommandHangupCall, CallPayload{CallID: callID}, sink)
}

// RingingCall шлет предварительный 180 Ringing по входящему вызову
func (s *Service) RingingCall(callID int, sink OutcomeFunc) int {
	return s.dispatch(CommandRingingCall, CallPayload{CallID: callID}, sink)
}

// ProgressCall шлет предварительный 183 Session Progress по входящему вызову
func (s *Service) ProgressCall(callID int, sink OutcomeFunc) int {
	return s.dispatch(CommandProgressCall, CallPayload{CallID: callID}, sink)
}

// HoldCall ставит вызов на удержание
func (s *Service) HoldCall(callID int, sink OutcomeFunc) int {
	return s.dispatch(CommandHoldCall, CallPayload{CallID: callID}, sink)
}

// UnholdCall снимает вызов с удержания
func (s *Service) UnholdCall(callID int, sink OutcomeFunc) int {
	return s.dispatch(CommandUnholdCall, CallPayload{CallID: callID}, sink)
}

// MuteCall выключает микрофон вызова
func (s *Service) MuteCall(callID int, sink OutcomeFunc) int {
	return s.dispatch(CommandMuteCall, CallPayload{CallID: callID}, sink)
}

// UnmuteCall включает микрофон вызова
func (s *Service) UnmuteCall(callID int, sink OutcomeFunc) int {
	return s.dispatch(CommandUnmuteCall, CallPayload{CallID: callID}, sink)
}

// UseSpeaker переводит звук вызова на громкую связь
func (s *Service) UseSpeaker(callID int, sink OutcomeFunc) int {
	return s.dispatch(CommandUseSpeaker, CallPayload{CallID: callID}, sink)
}

// UseEarpiece возвращает звук вызова на динамик
func (s *Service) UseEarpiece(callID int, sink OutcomeFunc) int {
	return s.dispatch(CommandUseEarpiece, CallPayload{CallID: callID}, sink)
}

// SendDTMF отправляет DTMF последовательность в вызов
func (s *Service) SendDTMF(callID int, digits string, sink OutcomeFunc) int {
	return s.dispatch(CommandDTMFCall, CallDTMFPayload{CallID: callID, Digits: digits}, sink)
}

// TransferCall переводит вызов на другого абонента (REFER)
func (s *Service) TransferCall(callID int, destination string, sink OutcomeFunc) int {
	return s.dispatch(CommandXferCall, CallTransferPayload{CallID: callID, Destination: destination}, sink)
}

// TransferReplacesCall выполняет сопровождаемый перевод: удаленная сторона
// вызова callID замещает диалог вызова destCallID (REFER с Replaces)
func (s *Service) TransferReplacesCall(callID, destCallID int, sink OutcomeFunc) int {
	return s.dispatch(CommandXferReplacesCall, CallTransferReplacesPayload{
		CallID:     callID,
		DestCallID: destCallID,
	}, sink)
}

// RedirectCall перенаправляет входящий вызов на другого абонента
func (s *Service) RedirectCall(callID int, destination string, sink OutcomeFunc) int {
	return s.dispatch(CommandRedirectCall, CallTransferPayload{CallID: callID, Destination: destination}, sink)
}

// ChangeCodecSettings применяет приоритеты кодеков
func (s *Service) ChangeCodecSettings(settings CodecSettings, sink OutcomeFunc) int {
	return s.dispatch(CommandChangeCodecSettings, CodecSettingsPayload{Settings: settings}, sink)
}

// UpdateStunServers применяет список STUN серверов для аккаунта
func (s *Service) UpdateStunServers(accountID int, servers []string, sink OutcomeFunc) int {
	return s.dispatch(CommandUpdateStunServers, StunServersPayload{AccountID: accountID, Servers: servers}, sink)
}

// ChangeNetworkConfiguration применяет правила использования сетей
func (s *Service) ChangeNetworkConfiguration(cfg NetworkConfig, sink OutcomeFunc) int {
	return s.dispatch(CommandChangeNetworkConfiguration, NetworkConfigPayload{Config: cfg}, sink)
}

// NotifyCallScreenLocked сообщает подписчикам о смене блокировки экрана вызова.
// Команды не требует: это сквозное уведомление от хоста к слушателям.
func (s *Service) NotifyCallScreenLocked(lock bool) {
	s.dispatcher.post(func() {
		s.emitter.PublishCallScreenLocked(lock)
	})
}

// --- Уведомления движка. Каждое переносится на воркер. ---

// OnRegistrationState применяет результат регистрации и публикует
// registration_changed
func (s *Service) OnRegistrationState(accountID int, registered bool, code int, reason string, expiration, retryAfter int) {
	s.dispatcher.post(func() {
		acc, err := s.registry.FindAccount(accountID)
		if err != nil {
			slog.Warn("Service.OnRegistrationState: account not found",
				slog.Int("accountID", accountID))
			return
		}
		acc.setRegistrationState(registered, code, reason, expiration, retryAfter)
		s.emitter.PublishRegistrationChanged(acc.Snapshot())
	})
}

// OnIncomingCall создает входящий вызов и публикует call_received
func (s *Service) OnIncomingCall(accountID int, dialogID, remote, offer string) {
	s.dispatcher.post(func() {
		acc, err := s.registry.FindAccount(accountID)
		if err != nil {
			slog.Warn("Service.OnIncomingCall: account not found, call dropped",
				slog.Int("accountID", accountID),
				slog.String("dialogID", dialogID))
			return
		}
		call, err := s.registry.CreateIncomingCall(acc, dialogID, remote, offer)
		if err != nil {
			slog.Warn("Service.OnIncomingCall: failed to create call",
				slog.String("dialogID", dialogID),
				slog.String("error", err.Error()))
			return
		}
		s.emitter.PublishCallReceived(acc.Snapshot(), call.Snapshot())
	})
}

// OnCallState применяет переход состояния диалога. Терминальный переход
// публикует call_terminated и удаляет вызов из реестра одним шагом воркера,
// поэтому после call_terminated событий по этому вызову больше не будет.
func (s *Service) OnCallState(dialogID string, state CallState, statusCode int, reason string) {
	s.dispatcher.post(func() {
		call, err := s.registry.FindCallByDialog(dialogID)
		if err != nil {
			slog.Warn("Service.OnCallState: unknown dialog",
				slog.String("dialogID", dialogID),
				slog.String("state", string(state)))
			return
		}
		updated, err := s.registry.UpdateCallState(call.ID(), state,
			CallStateFields{StatusCode: statusCode, Reason: reason})
		if err != nil {
			slog.Warn("Service.OnCallState: transition rejected",
				slog.Int("callID", call.ID()),
				slog.String("state", string(state)),
				slog.String("error", err.Error()))
			return
		}

		if state == CallStateDisconnected {
			s.emitter.PublishCallTerminated(updated.Snapshot())
			if err := s.registry.RemoveCall(updated.ID()); err != nil {
				slog.Error("Service.OnCallState: failed to reap terminated call",
					slog.Int("callID", updated.ID()),
					slog.String("error", err.Error()))
			}
			return
		}
		s.emitter.PublishCallChanged(updated.Snapshot())
	})
}

// OnCallMedia применяет обновленное SDP предложение и публикует call_changed
func (s *Service) OnCallMedia(dialogID, offer string) {
	s.dispatcher.post(func() {
		call, err := s.registry.FindCallByDialog(dialogID)
		if err != nil {
			slog.Warn("Service.OnCallMedia: unknown dialog",
				slog.String("dialogID", dialogID))
			return
		}
		if err := call.applyRemoteOffer(offer); err != nil {
			slog.Warn("Service.OnCallMedia: malformed offer ignored",
				slog.Int("callID", call.ID()),
				slog.String("error", err.Error()))
			return
		}
		s.emitter.PublishCallChanged(call.Snapshot())
	})
}

// OnMessage публикует входящее MESSAGE вместе со снимком аккаунта
func (s *Service) OnMessage(accountID int, msg Message) {
	s.dispatcher.post(func() {
		acc, err := s.registry.FindAccount(accountID)
		if err != nil {
			slog.Warn("Service.OnMessage: account not found, message dropped",
				slog.Int("accountID", accountID))
			return
		}
		s.emitter.PublishMessageReceived(acc.Snapshot(), msg)
	})
}

// OnConnectivityChanged запоминает доступность сети и публикует
// connectivity_changed
func (s *Service) OnConnectivityChanged(available bool) {
	s.dispatcher.post(func() {
		s.dispatcher.setConnectivity(available)
		s.emitter.PublishConnectivityChanged(available)
	})
}
