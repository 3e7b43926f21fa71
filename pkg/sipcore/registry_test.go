package sipcore

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegistryAccountLifecycle проверяет создание, поиск и удаление аккаунта
func TestRegistryAccountLifecycle(t *testing.T) {
	reg := NewRegistry(nil)

	acc := reg.CreateAccount(AccountConfig{Username: "alice", Domain: "sip.example.com"})
	require.NotNil(t, acc)
	assert.Equal(t, "sip:alice@sip.example.com", acc.URI())
	assert.Equal(t, "sip.example.com", acc.Config().RegServer, "regServer defaults to domain")
	assert.Equal(t, defaultRegTimeout, acc.Config().RegTimeout)

	found, err := reg.FindAccount(acc.ID())
	require.NoError(t, err)
	assert.Same(t, acc, found)

	_, err = reg.FindAccount(acc.ID() + 100)
	require.Error(t, err)
	assert.Equal(t, ErrorKindNotFound, KindOf(err))

	require.NoError(t, reg.RemoveAccount(acc.ID()))
	_, err = reg.FindAccount(acc.ID())
	require.Error(t, err)
}

// TestAccountSnapshotContactParams проверяет, что параметры Contact заголовка,
// его URI и регистрационного Contact — три независимых поля
func TestAccountSnapshotContactParams(t *testing.T) {
	reg := NewRegistry(nil)

	acc := reg.CreateAccount(AccountConfig{
		Username:         "alice",
		Domain:           "sip.example.com",
		ContactParams:    ";+sip.instance=abc",
		ContactURIParams: ";transport=tcp",
		RegContactParams: ";expires=600",
	})

	snap := acc.Snapshot()
	assert.Equal(t, ";+sip.instance=abc", snap.ContactParams)
	assert.Equal(t, ";transport=tcp", snap.ContactURIParams)
	assert.Equal(t, ";expires=600", snap.RegContactParams)
}

// TestRegistryUniqueIDsAcrossKinds проверяет, что аккаунты и вызовы делят
// одно пространство идентификаторов без повторов
func TestRegistryUniqueIDsAcrossKinds(t *testing.T) {
	reg := NewRegistry(nil)

	acc := reg.CreateAccount(AccountConfig{Username: "alice", Domain: "sip.example.com"})
	call := reg.CreateCall(acc, sip.Uri{User: "bob", Host: "sip.example.com"}, DefaultCallSettings())
	acc2 := reg.CreateAccount(AccountConfig{Username: "carol", Domain: "sip.example.com"})

	seen := map[int]bool{}
	for _, id := range []int{acc.ID(), call.ID(), acc2.ID()} {
		assert.False(t, seen[id], "id %d assigned twice", id)
		seen[id] = true
	}
}

// TestRegistryRemoveAccountWithActiveCall проверяет запрет удаления аккаунта
// с живым вызовом
func TestRegistryRemoveAccountWithActiveCall(t *testing.T) {
	reg := NewRegistry(nil)

	acc := reg.CreateAccount(AccountConfig{Username: "alice", Domain: "sip.example.com"})
	call := reg.CreateCall(acc, sip.Uri{User: "bob", Host: "sip.example.com"}, DefaultCallSettings())

	err := reg.RemoveAccount(acc.ID())
	require.Error(t, err)
	assert.Equal(t, ErrorKindInvalidArgument, KindOf(err))

	// После завершения и удаления вызова аккаунт удаляется
	require.NoError(t, reg.RemoveCall(call.ID()))
	require.NoError(t, reg.RemoveAccount(acc.ID()))
}

// TestRegistryDialogIndex проверяет привязку и поиск вызова по идентификатору
// диалога движка
func TestRegistryDialogIndex(t *testing.T) {
	reg := NewRegistry(nil)
	acc := reg.CreateAccount(AccountConfig{Username: "alice", Domain: "sip.example.com"})

	call := reg.CreateCall(acc, sip.Uri{User: "bob", Host: "sip.example.com"}, DefaultCallSettings())
	require.NoError(t, reg.BindDialog(call.ID(), "dlg-42"))

	found, err := reg.FindCallByDialog("dlg-42")
	require.NoError(t, err)
	assert.Same(t, call, found)

	_, err = reg.FindCallByDialog("dlg-missing")
	require.Error(t, err)
	assert.Equal(t, ErrorKindNotFound, KindOf(err))

	// Удаление вызова чистит индекс
	require.NoError(t, reg.RemoveCall(call.ID()))
	_, err = reg.FindCallByDialog("dlg-42")
	require.Error(t, err)
}

// TestRegistryIncomingCallIndexedImmediately проверяет, что входящий вызов
// сразу доступен по идентификатору диалога
func TestRegistryIncomingCallIndexedImmediately(t *testing.T) {
	reg := NewRegistry(nil)
	acc := reg.CreateAccount(AccountConfig{Username: "alice", Domain: "sip.example.com"})

	call, err := reg.CreateIncomingCall(acc, "dlg-in", "sip:bob@sip.example.com", "")
	require.NoError(t, err)

	found, err := reg.FindCallByDialog("dlg-in")
	require.NoError(t, err)
	assert.Same(t, call, found)
	assert.Equal(t, CallStateIncoming, call.State())
}

// TestRegistryUpdateCallState проверяет переход состояния с сопутствующими полями
func TestRegistryUpdateCallState(t *testing.T) {
	reg := NewRegistry(nil)
	acc := reg.CreateAccount(AccountConfig{Username: "alice", Domain: "sip.example.com"})
	call := reg.CreateCall(acc, sip.Uri{User: "bob", Host: "sip.example.com"}, DefaultCallSettings())

	updated, err := reg.UpdateCallState(call.ID(), CallStateEarly,
		CallStateFields{StatusCode: 180, Reason: "Ringing"})
	require.NoError(t, err)
	assert.Equal(t, CallStateEarly, updated.State())
	assert.Equal(t, 180, updated.lastStatusCode)
	assert.Equal(t, "Ringing", updated.lastReason)

	_, err = reg.UpdateCallState(call.ID()+100, CallStateEarly, CallStateFields{})
	require.Error(t, err)
	assert.Equal(t, ErrorKindNotFound, KindOf(err))

	// Недопустимый переход не мутирует вызов
	_, err = reg.UpdateCallState(call.ID(), CallStateIncoming, CallStateFields{StatusCode: 500})
	require.Error(t, err)
	assert.Equal(t, ErrorKindInvalidTransition, KindOf(err))
	assert.Equal(t, CallStateEarly, call.State())
	assert.Equal(t, 180, call.lastStatusCode)
}

// TestRegistryListsAreOrdered проверяет упорядоченность списков по id
func TestRegistryListsAreOrdered(t *testing.T) {
	reg := NewRegistry(nil)

	for i := 0; i < 5; i++ {
		reg.CreateAccount(AccountConfig{Username: "user", Domain: "sip.example.com"})
	}

	accounts := reg.Accounts()
	require.Len(t, accounts, 5)
	for i := 1; i < len(accounts); i++ {
		assert.Less(t, accounts[i-1].ID(), accounts[i].ID())
	}
}
