package sipcore

import "sync/atomic"

// IDGen выдает процессно-уникальные целочисленные идентификаторы для
// аккаунтов, вызовов и корреляционных токенов.
//
// Идентификаторы монотонно растут и никогда не переиспользуются, даже после
// удаления сущности: поздние асинхронные события движка не должны попадать
// в новую сущность со старым id.
type IDGen struct {
	counter atomic.Int64
}

// NewIDGen создает новый генератор. Нумерация начинается с 1.
func NewIDGen() *IDGen {
	return &IDGen{}
}

// Next возвращает следующий идентификатор. Потокобезопасен, lock-free.
func (g *IDGen) Next() int {
	return int(g.counter.Add(1))
}
