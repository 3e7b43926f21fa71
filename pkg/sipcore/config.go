package sipcore

// DTO конфигураций, приходящих от хоста. Имена JSON полей совпадают
// с протоколом хоста и менять их нельзя.

const defaultRegTimeout = 3600

// AccountConfig конфигурация SIP аккаунта
type AccountConfig struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Domain   string `json:"domain"`
	Password string `json:"password"`

	// Опциональный исходящий прокси, например "sip:proxy.example.com:5060"
	Proxy string `json:"proxy,omitempty"`
	// Опциональный транспорт: "UDP", "TCP", "TLS"
	Transport string `json:"transport,omitempty"`

	// Параметры Contact заголовка и его URI
	ContactParams    string `json:"contactParams,omitempty"`
	ContactURIParams string `json:"contactUriParams,omitempty"`

	// Сервер регистрации. Пустое значение — используется Domain.
	RegServer string `json:"regServer,omitempty"`
	// Таймаут регистрации в секундах. 0 — используется значение по умолчанию (3600).
	RegTimeout       int               `json:"regTimeout,omitempty"`
	RegHeaders       map[string]string `json:"regHeaders,omitempty"`
	RegContactParams string            `json:"regContactParams,omitempty"`
}

// validate проверяет обязательные поля конфигурации
func (c *AccountConfig) validate() error {
	if c.Username == "" {
		return NewError(ErrorKindInvalidArgument, "account username is required")
	}
	if c.Domain == "" {
		return NewError(ErrorKindInvalidArgument, "account domain is required")
	}
	return nil
}

// CallSettings настройки исходящего вызова
type CallSettings struct {
	Flag              int `json:"flag"`
	ReqKeyframeMethod int `json:"reqKeyframeMethod"`
	AudCnt            int `json:"audCnt"`
	VidCnt            int `json:"vidCnt"`
}

// DefaultCallSettings возвращает настройки по умолчанию: один аудиопоток
func DefaultCallSettings() CallSettings {
	return CallSettings{AudCnt: 1}
}

// ServiceConfig общесервисная конфигурация
type ServiceConfig struct {
	UserAgent   string   `json:"userAgent"`
	StunServers []string `json:"stunServers"`
}

// HasUserAgent сообщает, задан ли User-Agent
func (c ServiceConfig) HasUserAgent() bool {
	return c.UserAgent != ""
}

// HasStunServers сообщает, задан ли список STUN серверов
func (c ServiceConfig) HasStunServers() bool {
	return len(c.StunServers) > 0
}

// NetworkConfig описывает, какие сети разрешено использовать движку
type NetworkConfig struct {
	UseWifi    bool `json:"useWifi"`
	UseMobile  bool `json:"useMobile"`
	UseOther   bool `json:"useOther"`
	UseAnyway  bool `json:"useAnyway"`
	UseInRoam  bool `json:"useInRoaming"`
}

// CodecSettings приоритеты кодеков: имя кодека -> приоритет (0 отключает кодек)
type CodecSettings map[string]int

// Message входящее SIP сообщение (MESSAGE)
type Message struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Body        string `json:"body"`
	ContentType string `json:"contentType"`
}

// NewMessage создает сообщение, подставляя content type по умолчанию
func NewMessage(from, to, body, contentType string) Message {
	if contentType == "" {
		contentType = "text/plain"
	}
	return Message{From: from, To: to, Body: body, ContentType: contentType}
}
