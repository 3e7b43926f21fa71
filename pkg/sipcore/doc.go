// Package sipcore реализует ядро управления SIP сессиями для хост-приложения.
//
// Ядро принимает команды хоста (создать аккаунт, зарегистрировать, позвонить,
// ответить, положить трубку и т.д.) асинхронно: вызывающая сторона получает
// корреляционный токен сразу, а ровно один результат (успех или ошибка)
// доставляется позже через Correlator. Независимо от команд ядро рассылает
// события сессий (смена регистрации, входящий вызов, смена состояния вызова,
// завершение вызова, сообщения, связность) всем подписчикам Emitter.
//
// Основные компоненты:
//   - IDGen — монотонные процессно-уникальные идентификаторы
//   - Registry — авторитетное хранилище аккаунтов и вызовов
//   - Correlator — сопоставление команды с её единственным результатом
//   - Dispatcher — сериализованный воркер, исполняющий команды по одной
//   - Emitter — рассылка событий подписчикам
//   - Engine — узкий интерфейс протокольного движка (PJSIP, sipgo и т.п.)
//   - Service — фасад, связывающий всё вместе
//
// Дисциплина конкурентности: все мутации Registry и исполнение команд
// происходят на одном логическом воркере Dispatcher. Колбэки движка
// также переносятся на этот воркер, поэтому команда и уведомление движка
// никогда не гонятся за одной сущностью.
package sipcore
