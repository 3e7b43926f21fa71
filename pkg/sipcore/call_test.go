package sipcore

import (
	"strings"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSDPOffer() string {
	return strings.Join([]string{
		"v=0",
		"o=- 3868401 3868401 IN IP4 192.0.2.10",
		"s=-",
		"c=IN IP4 192.0.2.10",
		"t=0 0",
		"m=audio 49170 RTP/AVP 0 8 101",
		"a=rtpmap:0 PCMU/8000",
		"m=video 51372 RTP/AVP 96",
		"a=rtpmap:96 H264/90000",
		"",
	}, "\r\n")
}

func testAccount(id int) *Account {
	return newAccount(id, AccountConfig{
		Username: "alice",
		Domain:   "sip.example.com",
		Password: "secret",
	})
}

// TestCallStateMachineHappyPath проверяет полный жизненный цикл исходящего вызова
func TestCallStateMachineHappyPath(t *testing.T) {
	acc := testAccount(1)
	call := newOutgoingCall(2, acc, sip.Uri{User: "bob", Host: acc.Domain()}, DefaultCallSettings())

	require.Equal(t, CallStateCalling, call.State())
	assert.Equal(t, 1, call.audioCount)
	assert.False(t, call.IsTerminated())

	require.NoError(t, call.transition(CallStateEarly))
	require.NoError(t, call.transition(CallStateConnecting))
	require.NoError(t, call.transition(CallStateConfirmed))
	assert.False(t, call.connectedAt.IsZero(), "confirmed call must record connect time")

	require.NoError(t, call.transition(CallStateDisconnected))
	assert.True(t, call.IsTerminated())
}

// TestCallStateMachineRejectsInvalidTransitions проверяет отклонение
// нелегальных переходов без мутации состояния
func TestCallStateMachineRejectsInvalidTransitions(t *testing.T) {
	acc := testAccount(1)
	call := newOutgoingCall(2, acc, sip.Uri{User: "bob", Host: acc.Domain()}, DefaultCallSettings())

	require.NoError(t, call.transition(CallStateConfirmed))

	// Назад в EARLY из CONFIRMED нельзя
	err := call.transition(CallStateEarly)
	require.Error(t, err)
	assert.Equal(t, ErrorKindInvalidTransition, KindOf(err))
	assert.Equal(t, CallStateConfirmed, call.State(), "state must not change on rejected transition")
}

// TestCallStateMachineTerminalIsFinal проверяет, что из DISCONNECTED
// переходов нет
func TestCallStateMachineTerminalIsFinal(t *testing.T) {
	acc := testAccount(1)
	call := newOutgoingCall(2, acc, sip.Uri{User: "bob", Host: acc.Domain()}, DefaultCallSettings())

	require.NoError(t, call.transition(CallStateDisconnected))

	for _, next := range []CallState{CallStateCalling, CallStateEarly, CallStateConfirmed} {
		err := call.transition(next)
		require.Error(t, err, "transition to %s after disconnect must fail", next)
		assert.Equal(t, ErrorKindInvalidTransition, KindOf(err))
	}
}

// TestCallTransitionToSameStateIsNoop проверяет идемпотентность повторного
// уведомления о текущем состоянии
func TestCallTransitionToSameStateIsNoop(t *testing.T) {
	acc := testAccount(1)
	call := newOutgoingCall(2, acc, sip.Uri{User: "bob", Host: acc.Domain()}, DefaultCallSettings())

	require.NoError(t, call.transition(CallStateCalling))
	assert.Equal(t, CallStateCalling, call.State())
}

// TestCallApplyRemoteOffer проверяет разбор SDP предложения удаленной стороны
func TestCallApplyRemoteOffer(t *testing.T) {
	acc := testAccount(1)
	call, err := newIncomingCall(2, acc, "dlg-1", "sip:bob@sip.example.com", sampleSDPOffer())
	require.NoError(t, err)

	assert.Equal(t, CallStateIncoming, call.State())
	assert.True(t, call.remoteOfferer)
	assert.Equal(t, 1, call.remoteAudioCount)
	assert.Equal(t, 1, call.remoteVideoCount)
	require.Len(t, call.media, 2)
	assert.Equal(t, "audio", call.media[0].Type)
	assert.Equal(t, 49170, call.media[0].Port)
	assert.Equal(t, "RTP/AVP", call.media[0].Protocol)
	assert.Equal(t, []string{"0", "8", "101"}, call.media[0].Formats)
}

// TestCallApplyRemoteOfferMalformed проверяет, что мусорный SDP отклоняется
// как InvalidArgument
func TestCallApplyRemoteOfferMalformed(t *testing.T) {
	acc := testAccount(1)
	_, err := newIncomingCall(2, acc, "dlg-1", "sip:bob@sip.example.com", "this is not sdp")
	require.Error(t, err)
	assert.Equal(t, ErrorKindInvalidArgument, KindOf(err))
}

// TestCallSnapshotConnectDuration проверяет connectDuration для неотвеченного
// и отвеченного вызова
func TestCallSnapshotConnectDuration(t *testing.T) {
	acc := testAccount(1)
	call := newOutgoingCall(2, acc, sip.Uri{User: "bob", Host: acc.Domain()}, DefaultCallSettings())

	snap := call.Snapshot()
	assert.Equal(t, -1, snap.ConnectDuration, "unanswered call reports -1")
	assert.Equal(t, string(CallStateCalling), snap.State)
	assert.Equal(t, "Calling", snap.StateText)
	assert.Equal(t, "sip:alice@sip.example.com", snap.LocalURI)

	require.NoError(t, call.transition(CallStateConfirmed))
	snap = call.Snapshot()
	assert.GreaterOrEqual(t, snap.ConnectDuration, 0)
}

// TestCallEventName проверяет формат имени события FSM
func TestCallEventName(t *testing.T) {
	name := callEventName(CallStateEarly, CallStateConfirmed)
	assert.Equal(t, "PJSIP_INV_STATE_EARLY_to_PJSIP_INV_STATE_CONFIRMED", name)
}
