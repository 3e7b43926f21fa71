package sipcore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIDGenUnique проверяет уникальность и монотонность идентификаторов
// при конкурентной генерации
func TestIDGenUnique(t *testing.T) {
	gen := NewIDGen()

	const workers = 8
	const perWorker = 1000

	var mu sync.Mutex
	seen := make(map[int]bool, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := gen.Next()
				mu.Lock()
				assert.False(t, seen[id], "id %d issued twice", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

// TestCorrelatorResolveOnce проверяет доставку результата ровно один раз
func TestCorrelatorResolveOnce(t *testing.T) {
	corr := NewCorrelator(nil)

	var got []Outcome
	token := corr.Register(func(out Outcome) {
		got = append(got, out)
	})
	assert.Equal(t, 1, corr.PendingCount())

	corr.Resolve(token, SuccessOutcome("done"))
	require.Len(t, got, 1)
	assert.True(t, got[0].Successful)
	assert.Equal(t, "done", got[0].Data)
	assert.Equal(t, 0, corr.PendingCount())

	// Повторное разрешение — no-op, приемник не вызывается второй раз
	corr.Resolve(token, SuccessOutcome("again"))
	assert.Len(t, got, 1)
	assert.Equal(t, 0, corr.PendingCount())
}

// TestCorrelatorUnknownToken проверяет, что разрешение неизвестного токена
// не имеет эффектов
func TestCorrelatorUnknownToken(t *testing.T) {
	corr := NewCorrelator(nil)
	corr.Resolve(12345, SuccessOutcome("nobody is waiting"))
	assert.Equal(t, 0, corr.PendingCount())
}

// TestCorrelatorDistinctTokens проверяет независимость одновременно
// ожидающих команд
func TestCorrelatorDistinctTokens(t *testing.T) {
	corr := NewCorrelator(nil)

	results := map[int]Outcome{}
	tokens := make([]int, 0, 10)
	for i := 0; i < 10; i++ {
		token := corr.Register(func(tok int) OutcomeFunc {
			return func(out Outcome) { results[tok] = out }
		}(i))
		tokens = append(tokens, token)
	}
	assert.Equal(t, 10, corr.PendingCount())

	// Разрешаем в обратном порядке: каждый результат попадает своему владельцу
	for i := len(tokens) - 1; i >= 0; i-- {
		corr.Resolve(tokens[i], FailureOutcome(NewError(ErrorKindNotFound, "missing %d", i)))
	}

	require.Len(t, results, 10)
	for i := 0; i < 10; i++ {
		assert.Equal(t, ErrorKindNotFound, results[i].Kind)
	}
	assert.Equal(t, 0, corr.PendingCount())
}

// TestFailureOutcomeCarriesKind проверяет извлечение вида и сообщения ошибки
func TestFailureOutcomeCarriesKind(t *testing.T) {
	out := FailureOutcome(NewError(ErrorKindInvalidArgument, "bad digits %q", "xyz"))
	assert.False(t, out.Successful)
	assert.Equal(t, ErrorKindInvalidArgument, out.Kind)
	assert.Contains(t, out.Message, "bad digits")

	// Ошибка без CoreError в цепочке классифицируется как EngineError
	out = FailureOutcome(assert.AnError)
	assert.Equal(t, ErrorKindEngine, out.Kind)
}
