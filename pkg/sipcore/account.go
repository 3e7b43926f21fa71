package sipcore

import (
	"github.com/emiago/sipgo/sip"
)

// Account — SIP учетная запись, способная регистрироваться на сервере
// и принимать/совершать вызовы.
//
// Все поля кроме состояния регистрации неизменяемы после создания.
// Состояние регистрации мутируется только на воркере Dispatcher в ответ
// на уведомления движка, ядро его никогда не выдумывает само.
type Account struct {
	id     int
	config AccountConfig
	uri    sip.Uri

	registration Registration
}

// Registration состояние регистрации аккаунта, подсущность Account.
// Опциональные поля — указатели: nil означает "движок еще не сообщал".
type Registration struct {
	Status     bool    `json:"status"`
	Code       *int    `json:"code"`
	Reason     *string `json:"reason"`
	Expiration *int    `json:"expiration"`
	RetryAfter *int    `json:"retryAfter"`
}

// newAccount создает аккаунт из конфигурации, подставляя значения по умолчанию.
// Валидация конфигурации — обязанность вызывающего.
func newAccount(id int, cfg AccountConfig) *Account {
	if cfg.RegServer == "" {
		cfg.RegServer = cfg.Domain
	}
	if cfg.RegTimeout <= 0 {
		cfg.RegTimeout = defaultRegTimeout
	}
	return &Account{
		id:     id,
		config: cfg,
		uri: sip.Uri{
			User: cfg.Username,
			Host: cfg.Domain,
		},
	}
}

// ID возвращает процессно-уникальный идентификатор аккаунта
func (a *Account) ID() int {
	return a.id
}

// URI возвращает address-of-record аккаунта вида "sip:user@domain"
func (a *Account) URI() string {
	return a.uri.String()
}

// Domain возвращает SIP домен аккаунта
func (a *Account) Domain() string {
	return a.config.Domain
}

// Config возвращает копию конфигурации аккаунта
func (a *Account) Config() AccountConfig {
	return a.config
}

// Registration возвращает копию текущего состояния регистрации
func (a *Account) Registration() Registration {
	return a.registration
}

// setRegistrationState применяет состояние, сообщенное движком.
// Вызывается только на воркере.
func (a *Account) setRegistrationState(registered bool, code int, reason string, expiration, retryAfter int) {
	a.registration = Registration{
		Status: registered,
		Code:   &code,
	}
	if reason != "" {
		a.registration.Reason = &reason
	}
	if expiration > 0 {
		a.registration.Expiration = &expiration
	}
	if retryAfter > 0 {
		a.registration.RetryAfter = &retryAfter
	}
}

// AccountSnapshot сериализуемый снимок аккаунта. Имена полей — протокол хоста.
type AccountSnapshot struct {
	ID               int               `json:"id"`
	URI              string            `json:"uri"`
	Name             string            `json:"name"`
	Username         string            `json:"username"`
	Domain           string            `json:"domain"`
	Password         string            `json:"password"`
	Proxy            string            `json:"proxy,omitempty"`
	Transport        string            `json:"transport,omitempty"`
	ContactParams    string            `json:"contactParams,omitempty"`
	ContactURIParams string            `json:"contactUriParams,omitempty"`
	RegServer        string            `json:"regServer"`
	RegTimeout       int               `json:"regTimeout"`
	RegContactParams string            `json:"regContactParams,omitempty"`
	RegHeaders       map[string]string `json:"regHeaders,omitempty"`
	Registration     Registration      `json:"registration"`
}

// Snapshot возвращает полный снимок аккаунта для событий и результатов команд.
// Слушатель всегда получает полное состояние, а не дифф.
func (a *Account) Snapshot() AccountSnapshot {
	return AccountSnapshot{
		ID:               a.id,
		URI:              a.URI(),
		Name:             a.config.Name,
		Username:         a.config.Username,
		Domain:           a.config.Domain,
		Password:         a.config.Password,
		Proxy:            a.config.Proxy,
		Transport:        a.config.Transport,
		ContactParams:    a.config.ContactParams,
		ContactURIParams: a.config.ContactURIParams,
		RegServer:        a.config.RegServer,
		RegTimeout:       a.config.RegTimeout,
		RegContactParams: a.config.RegContactParams,
		RegHeaders:       a.config.RegHeaders,
		Registration:     a.registration,
	}
}
