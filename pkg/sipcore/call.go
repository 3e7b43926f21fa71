package sipcore

import (
	"context"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"
	"github.com/pion/sdp/v3"
)

// CallState состояние вызова. Значения совпадают с именами состояний
// INVITE сессии в протоколе хоста.
type CallState string

const (
	// CallStateNull — вызов создан, но диалог еще не начат
	CallStateNull CallState = "PJSIP_INV_STATE_NULL"
	// CallStateCalling — отправлен INVITE, исходящий вызов
	CallStateCalling CallState = "PJSIP_INV_STATE_CALLING"
	// CallStateIncoming — получен INVITE, входящий вызов
	CallStateIncoming CallState = "PJSIP_INV_STATE_INCOMING"
	// CallStateEarly — получен предварительный ответ (180 Ringing и т.п.)
	CallStateEarly CallState = "PJSIP_INV_STATE_EARLY"
	// CallStateConnecting — получен финальный 2xx, ожидается подтверждение
	CallStateConnecting CallState = "PJSIP_INV_STATE_CONNECTING"
	// CallStateConfirmed — диалог подтвержден, разговор идет
	CallStateConfirmed CallState = "PJSIP_INV_STATE_CONFIRMED"
	// CallStateDisconnected — терминальное состояние, мутации запрещены
	CallStateDisconnected CallState = "PJSIP_INV_STATE_DISCONNECTED"
)

func (s CallState) String() string {
	return string(s)
}

// Text возвращает человекочитаемый текст состояния
func (s CallState) Text() string {
	switch s {
	case CallStateNull:
		return "Null"
	case CallStateCalling:
		return "Calling"
	case CallStateIncoming:
		return "Incoming"
	case CallStateEarly:
		return "Early"
	case CallStateConnecting:
		return "Connecting"
	case CallStateConfirmed:
		return "Confirmed"
	case CallStateDisconnected:
		return "Disconnected"
	}
	return "Unknown"
}

// callEventName формирует имя события FSM вида "SRC_to_DST"
func callEventName(src, dst CallState) string {
	builder := strings.Builder{}
	builder.WriteString(string(src))
	builder.WriteString("_to_")
	builder.WriteString(string(dst))
	return builder.String()
}

// MediaInfo описание одного медиапотока из SDP
type MediaInfo struct {
	Type     string   `json:"type"`
	Port     int      `json:"port"`
	Protocol string   `json:"protocol"`
	Formats  []string `json:"formats,omitempty"`
}

// Call — один SIP диалог между локальным аккаунтом и удаленной стороной.
//
// Мутации вызова выполняются только на воркере Dispatcher, поэтому поля
// не защищены отдельными мьютексами. Переходы состояния проходят через FSM,
// нелегальные переходы отклоняются с ErrorKindInvalidTransition.
type Call struct {
	fsm *fsm.FSM

	id        int
	dialogID  string // идентификатор диалога на уровне движка
	accountID int

	localURI      string
	remoteURI     string
	localContact  string
	remoteContact string

	held    bool
	muted   bool
	speaker bool

	createdAt    time.Time
	connectedAt  time.Time // нулевое значение — вызов не был отвечен
	lastActivity time.Time

	remoteOfferer    bool
	remoteAudioCount int
	remoteVideoCount int
	audioCount       int
	videoCount       int

	lastStatusCode int
	lastReason     string

	media            []MediaInfo
	provisionalMedia []MediaInfo
}

/*
FSM вызова:

[NULL] → [CALLING]  → [EARLY] → [CONNECTING] → [CONFIRMED] → [DISCONNECTED]
[NULL] → [INCOMING] → [EARLY] → ...

Из любого нетерминального состояния возможен переход в DISCONNECTED.
DISCONNECTED — терминальное состояние, исходящих переходов нет.
Имена событий формируются через callEventName: "SRC_to_DST".
*/

var callTransitions = []struct {
	src CallState
	dst CallState
}{
	{CallStateNull, CallStateCalling},
	{CallStateNull, CallStateIncoming},
	{CallStateNull, CallStateDisconnected},
	{CallStateCalling, CallStateEarly},
	{CallStateCalling, CallStateConnecting},
	{CallStateCalling, CallStateConfirmed},
	{CallStateCalling, CallStateDisconnected},
	{CallStateIncoming, CallStateEarly},
	{CallStateIncoming, CallStateConnecting},
	{CallStateIncoming, CallStateConfirmed},
	{CallStateIncoming, CallStateDisconnected},
	{CallStateEarly, CallStateConnecting},
	{CallStateEarly, CallStateConfirmed},
	{CallStateEarly, CallStateDisconnected},
	{CallStateConnecting, CallStateConfirmed},
	{CallStateConnecting, CallStateDisconnected},
	{CallStateConfirmed, CallStateDisconnected},
}

func (c *Call) initFSM(initial CallState) {
	events := make(fsm.Events, 0, len(callTransitions))
	for _, tr := range callTransitions {
		events = append(events, fsm.EventDesc{
			Name: callEventName(tr.src, tr.dst),
			Src:  []string{string(tr.src)},
			Dst:  string(tr.dst),
		})
	}
	c.fsm = fsm.NewFSM(string(initial), events, fsm.Callbacks{
		"after_event": c.afterStateChange,
	})
}

func (c *Call) afterStateChange(ctx context.Context, e *fsm.Event) {
	c.lastActivity = time.Now()
}

// newOutgoingCall создает исходящий вызов в состоянии CALLING
func newOutgoingCall(id int, acc *Account, remote sip.Uri, settings CallSettings) *Call {
	now := time.Now()
	c := &Call{
		id:           id,
		accountID:    acc.ID(),
		localURI:     acc.URI(),
		remoteURI:    remote.String(),
		createdAt:    now,
		lastActivity: now,
		audioCount:   settings.AudCnt,
		videoCount:   settings.VidCnt,
	}
	c.initFSM(CallStateCalling)
	return c
}

// newIncomingCall создает входящий вызов в состоянии INCOMING.
// offer — SDP предложение удаленной стороны, может быть пустым.
func newIncomingCall(id int, acc *Account, dialogID, remote, offer string) (*Call, error) {
	now := time.Now()
	c := &Call{
		id:           id,
		dialogID:     dialogID,
		accountID:    acc.ID(),
		localURI:     acc.URI(),
		remoteURI:    remote,
		createdAt:    now,
		lastActivity: now,
	}
	c.initFSM(CallStateIncoming)
	if offer != "" {
		if err := c.applyRemoteOffer(offer); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ID возвращает процессно-уникальный идентификатор вызова
func (c *Call) ID() int {
	return c.id
}

// DialogID возвращает идентификатор диалога на уровне движка.
// Пустая строка — движок еще не назначил диалог.
func (c *Call) DialogID() string {
	return c.dialogID
}

// AccountID возвращает id аккаунта-владельца
func (c *Call) AccountID() int {
	return c.accountID
}

// State возвращает текущее состояние вызова
func (c *Call) State() CallState {
	return CallState(c.fsm.Current())
}

// IsTerminated сообщает, достиг ли вызов терминального состояния
func (c *Call) IsTerminated() bool {
	return c.State() == CallStateDisconnected
}

// Held возвращает флаг удержания
func (c *Call) Held() bool { return c.held }

// Muted возвращает флаг выключенного микрофона
func (c *Call) Muted() bool { return c.muted }

// Speaker возвращает флаг громкой связи
func (c *Call) Speaker() bool { return c.speaker }

// transition переводит вызов в состояние next с валидацией через FSM.
// Переход в текущее состояние — no-op. После DISCONNECTED любые переходы запрещены.
func (c *Call) transition(next CallState) error {
	cur := c.State()
	if cur == next {
		return nil
	}
	if cur == CallStateDisconnected {
		return NewError(ErrorKindInvalidTransition,
			"call %d already disconnected, cannot transition to %s", c.id, next)
	}
	if err := c.fsm.Event(context.Background(), callEventName(cur, next)); err != nil {
		return WrapError(ErrorKindInvalidTransition, err,
			"call %d: invalid transition %s -> %s", c.id, cur, next)
	}
	if next == CallStateConfirmed && c.connectedAt.IsZero() {
		c.connectedAt = time.Now()
	}
	return nil
}

// applyRemoteOffer разбирает SDP предложение удаленной стороны и обновляет
// счетчики медиапотоков и описание медиа
func (c *Call) applyRemoteOffer(offer string) error {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(offer)); err != nil {
		return WrapError(ErrorKindInvalidArgument, err, "call %d: malformed SDP offer", c.id)
	}

	audio, video := 0, 0
	media := make([]MediaInfo, 0, len(desc.MediaDescriptions))
	for _, md := range desc.MediaDescriptions {
		switch md.MediaName.Media {
		case "audio":
			audio++
		case "video":
			video++
		}
		media = append(media, MediaInfo{
			Type:     md.MediaName.Media,
			Port:     md.MediaName.Port.Value,
			Protocol: strings.Join(md.MediaName.Protos, "/"),
			Formats:  md.MediaName.Formats,
		})
	}

	c.remoteOfferer = true
	c.remoteAudioCount = audio
	c.remoteVideoCount = video
	c.media = media
	c.lastActivity = time.Now()
	return nil
}

// CallSnapshot сериализуемый снимок вызова. Имена полей — протокол хоста.
type CallSnapshot struct {
	ID               int         `json:"id"`
	CallID           string      `json:"callId"`
	AccountID        int         `json:"accountId"`
	LocalContact     string      `json:"localContact,omitempty"`
	LocalURI         string      `json:"localUri"`
	RemoteContact    string      `json:"remoteContact,omitempty"`
	RemoteURI        string      `json:"remoteUri"`
	State            string      `json:"state"`
	StateText        string      `json:"stateText"`
	Held             bool        `json:"held"`
	Muted            bool        `json:"muted"`
	Speaker          bool        `json:"speaker"`
	ConnectDuration  int         `json:"connectDuration"`
	TotalDuration    int         `json:"totalDuration"`
	RemoteOfferer    bool        `json:"remoteOfferer"`
	RemoteAudioCount int         `json:"remoteAudioCount"`
	RemoteVideoCount int         `json:"remoteVideoCount"`
	AudioCount       int         `json:"audioCount"`
	VideoCount       int         `json:"videoCount"`
	LastStatusCode   int         `json:"lastStatusCode,omitempty"`
	LastReason       string      `json:"lastReason,omitempty"`
	Media            []MediaInfo `json:"media,omitempty"`
	ProvisionalMedia []MediaInfo `json:"provisionalMedia,omitempty"`
}

// Snapshot возвращает полный снимок вызова. connectDuration равен -1,
// если вызов так и не был отвечен.
func (c *Call) Snapshot() CallSnapshot {
	state := c.State()
	connect := -1
	if !c.connectedAt.IsZero() {
		connect = int(time.Since(c.connectedAt).Seconds())
	}
	return CallSnapshot{
		ID:               c.id,
		CallID:           c.dialogID,
		AccountID:        c.accountID,
		LocalContact:     c.localContact,
		LocalURI:         c.localURI,
		RemoteContact:    c.remoteContact,
		RemoteURI:        c.remoteURI,
		State:            string(state),
		StateText:        state.Text(),
		Held:             c.held,
		Muted:            c.muted,
		Speaker:          c.speaker,
		ConnectDuration:  connect,
		TotalDuration:    int(time.Since(c.createdAt).Seconds()),
		RemoteOfferer:    c.remoteOfferer,
		RemoteAudioCount: c.remoteAudioCount,
		RemoteVideoCount: c.remoteVideoCount,
		AudioCount:       c.audioCount,
		VideoCount:       c.videoCount,
		LastStatusCode:   c.lastStatusCode,
		LastReason:       c.lastReason,
		Media:            c.media,
		ProvisionalMedia: c.provisionalMedia,
	}
}
