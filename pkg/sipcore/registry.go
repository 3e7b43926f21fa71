package sipcore

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/emiago/sipgo/sip"
)

// Registry — авторитетное хранилище живых аккаунтов и вызовов.
//
// Все мутации выполняются на одном воркере Dispatcher (single-writer).
// RWMutex защищает чтения снимков, которые могут происходить при построении
// ответов и событий, от полуобновленных карт. Индекс dialogIndex нужен потому,
// что события движка приходят с идентификатором диалога, а не с целочисленным
// id вызова.
type Registry struct {
	ids *IDGen

	mu          sync.RWMutex
	accounts    map[int]*Account
	calls       map[int]*Call
	dialogIndex map[string]int
}

// NewRegistry создает пустой реестр. ids может быть nil — тогда создается
// собственный генератор.
func NewRegistry(ids *IDGen) *Registry {
	if ids == nil {
		ids = NewIDGen()
	}
	return &Registry{
		ids:         ids,
		accounts:    make(map[int]*Account),
		calls:       make(map[int]*Call),
		dialogIndex: make(map[string]int),
	}
}

// CreateAccount создает аккаунт с новым id и вставляет его в реестр.
// Конфигурация должна быть провалидирована вызывающим.
func (r *Registry) CreateAccount(cfg AccountConfig) *Account {
	acc := newAccount(r.ids.Next(), cfg)

	r.mu.Lock()
	r.accounts[acc.ID()] = acc
	r.mu.Unlock()

	metricAccountsActive.Inc()
	slog.Debug("Registry.CreateAccount",
		slog.Int("accountID", acc.ID()),
		slog.String("uri", acc.URI()))
	return acc
}

// FindAccount возвращает аккаунт по id
func (r *Registry) FindAccount(id int) (*Account, error) {
	r.mu.RLock()
	acc, ok := r.accounts[id]
	r.mu.RUnlock()
	if !ok {
		return nil, NewError(ErrorKindNotFound, "account %d not found", id)
	}
	return acc, nil
}

// RemoveAccount удаляет аккаунт. Аккаунт с живыми вызовами удалить нельзя:
// хост обязан сначала завершить вызовы.
func (r *Registry) RemoveAccount(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; !ok {
		return NewError(ErrorKindNotFound, "account %d not found", id)
	}
	for _, c := range r.calls {
		if c.AccountID() == id {
			return NewError(ErrorKindInvalidArgument,
				"account %d has active call %d", id, c.ID())
		}
	}
	delete(r.accounts, id)
	metricAccountsActive.Dec()
	return nil
}

// Accounts возвращает живые аккаунты, упорядоченные по id
func (r *Registry) Accounts() []*Account {
	r.mu.RLock()
	out := make([]*Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// CreateCall создает исходящий вызов в состоянии CALLING
func (r *Registry) CreateCall(acc *Account, remote sip.Uri, settings CallSettings) *Call {
	c := newOutgoingCall(r.ids.Next(), acc, remote, settings)

	r.mu.Lock()
	r.calls[c.ID()] = c
	r.mu.Unlock()

	metricCallsActive.Inc()
	slog.Debug("Registry.CreateCall",
		slog.Int("callID", c.ID()),
		slog.Int("accountID", acc.ID()),
		slog.String("remote", remote.String()))
	return c
}

// CreateIncomingCall создает входящий вызов в состоянии INCOMING.
// dialogID — идентификатор диалога, назначенный движком; offer — SDP
// предложение удаленной стороны (может быть пустым).
func (r *Registry) CreateIncomingCall(acc *Account, dialogID, remote, offer string) (*Call, error) {
	c, err := newIncomingCall(r.ids.Next(), acc, dialogID, remote, offer)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.calls[c.ID()] = c
	r.dialogIndex[dialogID] = c.ID()
	r.mu.Unlock()

	metricCallsActive.Inc()
	slog.Debug("Registry.CreateIncomingCall",
		slog.Int("callID", c.ID()),
		slog.String("dialogID", dialogID),
		slog.String("remote", remote))
	return c, nil
}

// BindDialog привязывает назначенный движком идентификатор диалога к вызову.
// Вызывается после успешного Invite.
func (r *Registry) BindDialog(callID int, dialogID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[callID]
	if !ok {
		return NewError(ErrorKindNotFound, "call %d not found", callID)
	}
	c.dialogID = dialogID
	r.dialogIndex[dialogID] = callID
	return nil
}

// FindCall возвращает вызов по id
func (r *Registry) FindCall(id int) (*Call, error) {
	r.mu.RLock()
	c, ok := r.calls[id]
	r.mu.RUnlock()
	if !ok {
		return nil, NewError(ErrorKindNotFound, "call %d not found", id)
	}
	return c, nil
}

// FindCallByDialog возвращает вызов по идентификатору диалога движка
func (r *Registry) FindCallByDialog(dialogID string) (*Call, error) {
	r.mu.RLock()
	id, ok := r.dialogIndex[dialogID]
	c := r.calls[id]
	r.mu.RUnlock()
	if !ok || c == nil {
		return nil, NewError(ErrorKindNotFound, "call with dialog %q not found", dialogID)
	}
	return c, nil
}

// RemoveCall удаляет вызов и его привязку к диалогу.
// Вызывается только после публикации терминального события.
func (r *Registry) RemoveCall(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[id]
	if !ok {
		return NewError(ErrorKindNotFound, "call %d not found", id)
	}
	delete(r.calls, id)
	if c.dialogID != "" {
		delete(r.dialogIndex, c.dialogID)
	}
	metricCallsActive.Dec()
	return nil
}

// Calls возвращает живые вызовы, упорядоченные по id
func (r *Registry) Calls() []*Call {
	r.mu.RLock()
	out := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// CallStateFields дополнительные поля, сопровождающие смену состояния
type CallStateFields struct {
	StatusCode int
	Reason     string
}

// UpdateCallState переводит вызов в состояние next. Возвращает NotFound,
// если вызова нет, и InvalidTransition, если переход недопустим или вызов
// уже в терминальном состоянии. Состояние не мутируется при ошибке.
func (r *Registry) UpdateCallState(id int, next CallState, fields CallStateFields) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[id]
	if !ok {
		return nil, NewError(ErrorKindNotFound, "call %d not found", id)
	}
	if err := c.transition(next); err != nil {
		return nil, err
	}
	if fields.StatusCode != 0 {
		c.lastStatusCode = fields.StatusCode
	}
	if fields.Reason != "" {
		c.lastReason = fields.Reason
	}
	return c, nil
}
