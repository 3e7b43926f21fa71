package sipcore

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// CommandKind вид команды хоста. Значения совпадают с именами методов
// протокола хоста.
type CommandKind string

const (
	CommandStart                      CommandKind = "start"
	CommandSetServiceConfiguration    CommandKind = "setServiceConfiguration"
	CommandCreateAccount              CommandKind = "createAccount"
	CommandRegisterAccount            CommandKind = "registerAccount"
	CommandDeleteAccount              CommandKind = "deleteAccount"
	CommandMakeCall                   CommandKind = "makeCall"
	CommandAnswerCall                 CommandKind = "answerCall"
	CommandDeclineCall                CommandKind = "declineCall"
	CommandHangupCall                 CommandKind = "hangupCall"
	CommandRingingCall                CommandKind = "ringingCall"
	CommandProgressCall               CommandKind = "progressCall"
	CommandHoldCall                   CommandKind = "holdCall"
	CommandUnholdCall                 CommandKind = "unholdCall"
	CommandMuteCall                   CommandKind = "muteCall"
	CommandUnmuteCall                 CommandKind = "unmuteCall"
	CommandUseSpeaker                 CommandKind = "useSpeaker"
	CommandUseEarpiece                CommandKind = "useEarpiece"
	CommandDTMFCall                   CommandKind = "dtmfCall"
	CommandXferCall                   CommandKind = "xferCall"
	CommandXferReplacesCall           CommandKind = "xferReplacesCall"
	CommandRedirectCall               CommandKind = "redirectCall"
	CommandChangeCodecSettings        CommandKind = "changeCodecSettings"
	CommandUpdateStunServers          CommandKind = "updateStunServers"
	CommandChangeNetworkConfiguration CommandKind = "changeNetworkConfiguration"
)

// Command принятая команда: вид, корреляционный токен и типизированные данные
type Command struct {
	Kind    CommandKind
	Token   int
	Payload any
}

// Типизированные данные команд

type StartPayload struct {
	Config *ServiceConfig
}

type ServiceConfigPayload struct {
	Config ServiceConfig
}

type AccountCreatePayload struct {
	Config AccountConfig
}

type AccountRegisterPayload struct {
	AccountID int
	Renew     bool
}

type AccountDeletePayload struct {
	AccountID int
}

type CallMakePayload struct {
	AccountID   int
	Destination string
	Settings    *CallSettings
	MsgData     map[string]string
}

// CallPayload данные команд, адресующих только вызов
type CallPayload struct {
	CallID int
}

type CallDTMFPayload struct {
	CallID int
	Digits string
}

type CallTransferPayload struct {
	CallID      int
	Destination string
}

// CallTransferReplacesPayload данные сопровождаемого перевода:
// удаленная сторона вызова CallID замещает диалог вызова DestCallID
type CallTransferReplacesPayload struct {
	CallID     int
	DestCallID int
}

type CodecSettingsPayload struct {
	Settings CodecSettings
}

type StunServersPayload struct {
	AccountID int
	Servers   []string
}

type NetworkConfigPayload struct {
	Config NetworkConfig
}

// задача воркера: либо команда хоста, либо отложенный колбэк движка
type task struct {
	cmd *Command
	fn  func()
}

const defaultQueueSize = 128

// Dispatcher — сериализованный исполнитель команд.
//
// Все команды и все уведомления движка исполняются на одном воркере,
// по одной за раз: две команды никогда не перемежают свои мутации Registry,
// а уведомление движка не гонится с командой за одну сущность. Прием команды
// (Dispatch) не блокирует вызывающего.
//
// Гарантия: каждая принятая команда получает ровно одно разрешение своего
// токена — успех, ошибка, внутренний сбой или остановка диспетчера.
type Dispatcher struct {
	registry   *Registry
	correlator *Correlator
	emitter    *Emitter
	engine     Engine

	queue chan task
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once

	// Состояние сервиса. Принадлежит воркеру, вне воркера не трогать.
	config       ServiceConfig
	connectivity bool
}

// NewDispatcher создает диспетчер. queueSize <= 0 — размер по умолчанию.
// Воркер запускается методом Start.
func NewDispatcher(reg *Registry, corr *Correlator, emit *Emitter, engine Engine, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		registry:     reg,
		correlator:   corr,
		emitter:      emit,
		engine:       engine,
		queue:        make(chan task, queueSize),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		connectivity: true,
	}
}

// Start запускает воркер
func (d *Dispatcher) Start() {
	go d.worker()
}

// Close останавливает воркер. Команды, оставшиеся в очереди, разрешаются
// ошибкой, чтобы ни один токен не завис. Блокирует до завершения воркера.
//
// Финальный слив после завершения воркера закрывает окно гонки: отправитель
// мог пройти проверку stop до его закрытия и положить команду в очередь уже
// после того, как воркер дослил её и вышел.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
	})
	<-d.done
	d.drainQueue()
}

// Dispatch ставит команду в очередь и немедленно возвращается.
// При переполненной очереди или остановленном диспетчере токен команды
// разрешается ошибкой — команда не принимается молча.
func (d *Dispatcher) Dispatch(cmd Command) {
	select {
	case <-d.stop:
		d.correlator.Resolve(cmd.Token,
			FailureOutcome(NewError(ErrorKindEngine, "dispatcher stopped")))
		return
	default:
	}

	select {
	case d.queue <- task{cmd: &cmd}:
		// Воркер мог завершиться между проверкой stop и постановкой в
		// очередь; тогда очередь больше никто не читает — добираем сами
		select {
		case <-d.done:
			d.drainQueue()
		default:
		}
	default:
		d.correlator.Resolve(cmd.Token,
			FailureOutcome(NewError(ErrorKindEngine, "command queue overflow")))
	}
}

// drainQueue разрешает ошибкой токены всех команд, оставшихся в очереди.
// Отложенные колбэки движка отбрасываются. Безопасен для конкурентного
// вызова: каждую задачу из канала получает ровно один читатель.
func (d *Dispatcher) drainQueue() {
	for {
		select {
		case t := <-d.queue:
			if t.cmd != nil {
				d.correlator.Resolve(t.cmd.Token,
					FailureOutcome(NewError(ErrorKindEngine, "dispatcher stopped")))
			}
		default:
			return
		}
	}
}

// post переносит колбэк движка на воркер. Возвращает false, если диспетчер
// остановлен или очередь переполнена — уведомление отброшено.
func (d *Dispatcher) post(fn func()) bool {
	select {
	case <-d.stop:
		return false
	default:
	}

	select {
	case d.queue <- task{fn: fn}:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			// Дорабатываем остаток очереди: каждый принятый токен
			// обязан получить результат.
			d.drainQueue()
			return
		case t := <-d.queue:
			if t.fn != nil {
				d.runPosted(t.fn)
				continue
			}
			d.execute(t.cmd)
		}
	}
}

// runPosted исполняет колбэк движка, не позволяя панике уронить воркер
func (d *Dispatcher) runPosted(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher: panic in posted engine callback",
				slog.Any("panic", r))
		}
	}()
	fn()
}

// execute исполняет команду и разрешает её токен ровно один раз.
// Паника в обработчике превращается в ошибочное разрешение, а не в сбой воркера.
func (d *Dispatcher) execute(cmd *Command) {
	start := time.Now()
	resolved := false
	defer func() {
		metricCommandDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			slog.Error("Dispatcher.execute: panic during command",
				slog.String("kind", string(cmd.Kind)),
				slog.Int("token", cmd.Token),
				slog.Any("panic", r))
			metricCommandsTotal.WithLabelValues(string(cmd.Kind), "panic").Inc()
			if !resolved {
				d.correlator.Resolve(cmd.Token,
					FailureOutcome(NewError(ErrorKindEngine, "internal fault: %v", r)))
			}
		}
	}()

	slog.Debug("Dispatcher.execute",
		slog.String("kind", string(cmd.Kind)),
		slog.Int("token", cmd.Token))

	data, err := d.handle(cmd)
	resolved = true
	if err != nil {
		slog.Debug("Dispatcher.execute: command failed",
			slog.String("kind", string(cmd.Kind)),
			slog.Int("token", cmd.Token),
			slog.String("error", err.Error()))
		metricCommandsTotal.WithLabelValues(string(cmd.Kind), "error").Inc()
		d.correlator.Resolve(cmd.Token, FailureOutcome(err))
		return
	}
	metricCommandsTotal.WithLabelValues(string(cmd.Kind), "ok").Inc()
	d.correlator.Resolve(cmd.Token, SuccessOutcome(data))
}

func badPayload(kind CommandKind) error {
	return NewError(ErrorKindInvalidArgument, "unexpected payload for command %s", kind)
}

func (d *Dispatcher) handle(cmd *Command) (string, error) {
	switch cmd.Kind {
	case CommandStart:
		p, ok := cmd.Payload.(StartPayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		return d.handleStart(p)

	case CommandSetServiceConfiguration:
		p, ok := cmd.Payload.(ServiceConfigPayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		if err := d.applyServiceConfig(p.Config); err != nil {
			return "", err
		}
		return "Configuration updated", nil

	case CommandCreateAccount:
		p, ok := cmd.Payload.(AccountCreatePayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		return d.handleAccountCreate(p)

	case CommandRegisterAccount:
		p, ok := cmd.Payload.(AccountRegisterPayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		return d.handleAccountRegister(p)

	case CommandDeleteAccount:
		p, ok := cmd.Payload.(AccountDeletePayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		return d.handleAccountDelete(p)

	case CommandMakeCall:
		p, ok := cmd.Payload.(CallMakePayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		return d.handleCallMake(p)

	case CommandAnswerCall, CommandDeclineCall, CommandHangupCall,
		CommandRingingCall, CommandProgressCall,
		CommandHoldCall, CommandUnholdCall, CommandMuteCall, CommandUnmuteCall,
		CommandUseSpeaker, CommandUseEarpiece:
		p, ok := cmd.Payload.(CallPayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		return d.handleCallControl(cmd.Kind, p.CallID)

	case CommandDTMFCall:
		p, ok := cmd.Payload.(CallDTMFPayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		return d.handleCallDTMF(p)

	case CommandXferCall, CommandRedirectCall:
		p, ok := cmd.Payload.(CallTransferPayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		return d.handleCallForward(cmd.Kind, p)

	case CommandXferReplacesCall:
		p, ok := cmd.Payload.(CallTransferReplacesPayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		return d.handleCallTransferReplaces(p)

	case CommandChangeCodecSettings:
		p, ok := cmd.Payload.(CodecSettingsPayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		if err := d.engine.SetCodecSettings(p.Settings); err != nil {
			return "", WrapError(ErrorKindEngine, err, "engine rejected codec settings")
		}
		return "Codec settings changed", nil

	case CommandUpdateStunServers:
		p, ok := cmd.Payload.(StunServersPayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		acc, err := d.registry.FindAccount(p.AccountID)
		if err != nil {
			return "", err
		}
		if err := d.engine.SetStunServers(acc, p.Servers); err != nil {
			return "", WrapError(ErrorKindEngine, err, "engine rejected STUN servers")
		}
		return "STUN servers updated", nil

	case CommandChangeNetworkConfiguration:
		p, ok := cmd.Payload.(NetworkConfigPayload)
		if !ok {
			return "", badPayload(cmd.Kind)
		}
		if err := d.engine.SetNetworkConfig(p.Config); err != nil {
			return "", WrapError(ErrorKindEngine, err, "engine rejected network configuration")
		}
		return "Network configuration changed", nil
	}

	return "", NewError(ErrorKindInvalidArgument, "unknown command kind %q", cmd.Kind)
}

// startSnapshot ответ команды start: полное текущее состояние ядра
type startSnapshot struct {
	Accounts     []AccountSnapshot `json:"accounts"`
	Calls        []CallSnapshot    `json:"calls"`
	Settings     ServiceConfig     `json:"settings"`
	Connectivity bool              `json:"connectivity"`
}

func (d *Dispatcher) handleStart(p StartPayload) (string, error) {
	if p.Config != nil {
		if err := d.applyServiceConfig(*p.Config); err != nil {
			return "", err
		}
	}

	snap := startSnapshot{
		Accounts:     make([]AccountSnapshot, 0),
		Calls:        make([]CallSnapshot, 0),
		Settings:     d.config,
		Connectivity: d.connectivity,
	}
	for _, a := range d.registry.Accounts() {
		snap.Accounts = append(snap.Accounts, a.Snapshot())
	}
	for _, c := range d.registry.Calls() {
		snap.Calls = append(snap.Calls, c.Snapshot())
	}
	return marshalData(snap)
}

func (d *Dispatcher) applyServiceConfig(cfg ServiceConfig) error {
	if err := d.engine.SetServiceConfig(cfg); err != nil {
		return WrapError(ErrorKindEngine, err, "engine rejected service configuration")
	}
	d.config = cfg
	return nil
}

func (d *Dispatcher) handleAccountCreate(p AccountCreatePayload) (string, error) {
	if err := p.Config.validate(); err != nil {
		return "", err
	}
	acc := d.registry.CreateAccount(p.Config)
	return marshalData(acc.Snapshot())
}

// handleAccountRegister передает запрос движку. Состояние регистрации
// здесь не трогаем: его обновит уведомление движка, команда подтверждает
// только прием запроса.
func (d *Dispatcher) handleAccountRegister(p AccountRegisterPayload) (string, error) {
	acc, err := d.registry.FindAccount(p.AccountID)
	if err != nil {
		return "", err
	}
	if err := d.engine.Register(acc, p.Renew); err != nil {
		return "", WrapError(ErrorKindEngine, err, "engine rejected registration")
	}
	if p.Renew {
		return "Registration requested", nil
	}
	return "Unregistration requested", nil
}

func (d *Dispatcher) handleAccountDelete(p AccountDeletePayload) (string, error) {
	acc, err := d.registry.FindAccount(p.AccountID)
	if err != nil {
		return "", err
	}
	if err := d.registry.RemoveAccount(p.AccountID); err != nil {
		return "", err
	}
	// Реестр авторитетен: ошибка движка при освобождении ресурсов
	// не отменяет удаление.
	if err := d.engine.CloseAccount(acc); err != nil {
		slog.Warn("Dispatcher: engine failed to close deleted account",
			slog.Int("accountID", p.AccountID),
			slog.String("error", err.Error()))
	}
	return "Account deleted", nil
}

func (d *Dispatcher) handleCallMake(p CallMakePayload) (string, error) {
	acc, err := d.registry.FindAccount(p.AccountID)
	if err != nil {
		return "", err
	}
	target, err := parseDestination(p.Destination, acc.Domain())
	if err != nil {
		return "", err
	}

	settings := DefaultCallSettings()
	if p.Settings != nil {
		settings = *p.Settings
	}

	call := d.registry.CreateCall(acc, target, settings)
	dialogID, err := d.engine.Invite(call, p.MsgData)
	if err != nil {
		// Вызов не начался — откатываем запись, событий не было
		_ = d.registry.RemoveCall(call.ID())
		return "", WrapError(ErrorKindEngine, err, "engine rejected INVITE")
	}
	if err := d.registry.BindDialog(call.ID(), dialogID); err != nil {
		return "", err
	}
	return marshalData(call.Snapshot())
}

// handleCallControl исполняет команды, адресующие существующий вызов.
// Локальные флаги (held/muted/speaker) меняются сразу и публикуют
// call_changed; переходы состояния диалога ждут уведомления движка.
func (d *Dispatcher) handleCallControl(kind CommandKind, callID int) (string, error) {
	call, err := d.registry.FindCall(callID)
	if err != nil {
		return "", err
	}

	switch kind {
	case CommandAnswerCall:
		if err := d.engine.Answer(call); err != nil {
			return "", WrapError(ErrorKindEngine, err, "engine rejected answer")
		}
		return "Call answered", nil

	case CommandDeclineCall:
		if err := d.engine.Decline(call); err != nil {
			return "", WrapError(ErrorKindEngine, err, "engine rejected decline")
		}
		return "Call declined", nil

	case CommandHangupCall:
		if err := d.engine.Hangup(call); err != nil {
			return "", WrapError(ErrorKindEngine, err, "engine rejected hangup")
		}
		return "Call hung up", nil

	case CommandRingingCall:
		if err := d.engine.Ringing(call); err != nil {
			return "", WrapError(ErrorKindEngine, err, "engine rejected ringing")
		}
		return "Ringing sent", nil

	case CommandProgressCall:
		if err := d.engine.Progress(call); err != nil {
			return "", WrapError(ErrorKindEngine, err, "engine rejected progress")
		}
		return "Progress sent", nil

	case CommandHoldCall:
		if err := d.engine.Hold(call); err != nil {
			return "", WrapError(ErrorKindEngine, err, "engine rejected hold")
		}
		call.held = true
		d.emitter.PublishCallChanged(call.Snapshot())
		return "Call held", nil

	case CommandUnholdCall:
		if err := d.engine.Resume(call); err != nil {
			return "", WrapError(ErrorKindEngine, err, "engine rejected unhold")
		}
		call.held = false
		d.emitter.PublishCallChanged(call.Snapshot())
		return "Call unheld", nil

	case CommandMuteCall:
		call.muted = true
		d.emitter.PublishCallChanged(call.Snapshot())
		return "Call muted", nil

	case CommandUnmuteCall:
		call.muted = false
		d.emitter.PublishCallChanged(call.Snapshot())
		return "Call unmuted", nil

	case CommandUseSpeaker:
		call.speaker = true
		d.emitter.PublishCallChanged(call.Snapshot())
		return "Speaker enabled", nil

	case CommandUseEarpiece:
		call.speaker = false
		d.emitter.PublishCallChanged(call.Snapshot())
		return "Earpiece enabled", nil
	}

	return "", NewError(ErrorKindInvalidArgument, "unknown call command %q", kind)
}

const dtmfAlphabet = "0123456789*#ABCDabcd"

func (d *Dispatcher) handleCallDTMF(p CallDTMFPayload) (string, error) {
	if p.Digits == "" {
		return "", NewError(ErrorKindInvalidArgument, "DTMF digits are required")
	}
	for _, r := range p.Digits {
		if !strings.ContainsRune(dtmfAlphabet, r) {
			return "", NewError(ErrorKindInvalidArgument, "invalid DTMF digit %q", r)
		}
	}

	call, err := d.registry.FindCall(p.CallID)
	if err != nil {
		return "", err
	}
	if err := d.engine.SendDTMF(call, p.Digits); err != nil {
		return "", WrapError(ErrorKindEngine, err, "engine rejected DTMF")
	}
	return "DTMF sent", nil
}

func (d *Dispatcher) handleCallForward(kind CommandKind, p CallTransferPayload) (string, error) {
	call, err := d.registry.FindCall(p.CallID)
	if err != nil {
		return "", err
	}
	acc, err := d.registry.FindAccount(call.AccountID())
	if err != nil {
		return "", err
	}
	target, err := parseDestination(p.Destination, acc.Domain())
	if err != nil {
		return "", err
	}

	if kind == CommandXferCall {
		if err := d.engine.Transfer(call, target); err != nil {
			return "", WrapError(ErrorKindEngine, err, "engine rejected transfer")
		}
		return "Call transferred", nil
	}
	if err := d.engine.Redirect(call, target); err != nil {
		return "", WrapError(ErrorKindEngine, err, "engine rejected redirect")
	}
	return "Call redirected", nil
}

// handleCallTransferReplaces выполняет сопровождаемый перевод: оба вызова
// должны существовать, замещаемый диалог не должен совпадать с переводимым
func (d *Dispatcher) handleCallTransferReplaces(p CallTransferReplacesPayload) (string, error) {
	if p.CallID == p.DestCallID {
		return "", NewError(ErrorKindInvalidArgument,
			"call %d cannot replace itself", p.CallID)
	}
	call, err := d.registry.FindCall(p.CallID)
	if err != nil {
		return "", err
	}
	dest, err := d.registry.FindCall(p.DestCallID)
	if err != nil {
		return "", err
	}
	if err := d.engine.TransferReplaces(call, dest); err != nil {
		return "", WrapError(ErrorKindEngine, err, "engine rejected attended transfer")
	}
	return "Call transferred", nil
}

// setConnectivity вызывается только с воркера
func (d *Dispatcher) setConnectivity(available bool) {
	d.connectivity = available
}

// parseDestination превращает цель вызова в SIP URI. Голое имя пользователя
// дополняется доменом аккаунта, как это делает протокол хоста.
func parseDestination(dest, domain string) (sip.Uri, error) {
	if dest == "" {
		return sip.Uri{}, NewError(ErrorKindInvalidArgument, "destination is required")
	}
	if strings.Contains(dest, "@") || strings.HasPrefix(dest, "sip:") || strings.HasPrefix(dest, "sips:") {
		raw := dest
		if !strings.HasPrefix(raw, "sip:") && !strings.HasPrefix(raw, "sips:") {
			raw = "sip:" + raw
		}
		var u sip.Uri
		if err := sip.ParseUri(raw, &u); err != nil {
			return sip.Uri{}, WrapError(ErrorKindInvalidArgument, err, "malformed destination %q", dest)
		}
		return u, nil
	}
	return sip.Uri{User: dest, Host: domain}, nil
}

// marshalData сериализует успешный результат команды
func marshalData(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal command result")
	}
	return string(data), nil
}
