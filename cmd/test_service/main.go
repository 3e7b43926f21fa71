package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/arzzra/sip_service/pkg/sipcore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		username    = flag.String("user", "alice", "Username")
		domain      = flag.String("domain", "example.com", "Domain")
		target      = flag.String("target", "bob", "Target for outgoing call")
		metricsAddr = flag.String("metrics", "", "Address for Prometheus metrics, e.g. 127.0.0.1:9091 (disabled if empty)")
		debug       = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	if *debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Printf("Метрики доступны на http://%s/metrics", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("Ошибка сервера метрик: %v", err)
			}
		}()
	}

	// Ядро с движком-заглушкой: команды и события проходят весь путь,
	// но SIP трафика нет
	svc := sipcore.NewService(sipcore.NewNullEngine(), 0)
	defer svc.Close()

	svc.Subscribe(func(ev sipcore.Event) {
		fmt.Printf("<- событие %s: %s\n", ev.Kind, ev.Payload)
	})

	// Синхронная обертка над асинхронным API для демонстрации
	run := func(name string, submit func(sink sipcore.OutcomeFunc) int) sipcore.Outcome {
		done := make(chan sipcore.Outcome, 1)
		token := submit(func(out sipcore.Outcome) { done <- out })
		out := <-done
		if out.Successful {
			fmt.Printf("-> %s (token %d): OK %s\n", name, token, out.Data)
		} else {
			fmt.Printf("-> %s (token %d): %s: %s\n", name, token, out.Kind, out.Message)
		}
		return out
	}

	run("start", func(sink sipcore.OutcomeFunc) int {
		return svc.Start(&sipcore.ServiceConfig{UserAgent: "SIPService/1.0"}, sink)
	})

	out := run("createAccount", func(sink sipcore.OutcomeFunc) int {
		return svc.CreateAccount(sipcore.AccountConfig{
			Username: *username,
			Domain:   *domain,
			Password: "secret",
		}, sink)
	})
	if !out.Successful {
		log.Fatalf("Не удалось создать аккаунт: %s", out.Message)
	}
	var acc sipcore.AccountSnapshot
	if err := json.Unmarshal([]byte(out.Data), &acc); err != nil {
		log.Fatalf("Ошибка разбора снимка аккаунта: %v", err)
	}

	run("registerAccount", func(sink sipcore.OutcomeFunc) int {
		return svc.RegisterAccount(acc.ID, true, sink)
	})
	// Заглушка не шлет REGISTER, эмулируем ответ движка сами
	svc.OnRegistrationState(acc.ID, true, 200, "OK", 3600, 0)

	out = run("makeCall", func(sink sipcore.OutcomeFunc) int {
		return svc.MakeCall(acc.ID, *target, nil, nil, sink)
	})
	if out.Successful {
		var call sipcore.CallSnapshot
		if err := json.Unmarshal([]byte(out.Data), &call); err != nil {
			log.Fatalf("Ошибка разбора снимка вызова: %v", err)
		}

		// Эмулируем жизненный цикл диалога от движка
		svc.OnCallState(call.CallID, sipcore.CallStateEarly, 180, "Ringing")
		svc.OnCallState(call.CallID, sipcore.CallStateConfirmed, 200, "OK")

		run("holdCall", func(sink sipcore.OutcomeFunc) int {
			return svc.HoldCall(call.ID, sink)
		})
		run("unholdCall", func(sink sipcore.OutcomeFunc) int {
			return svc.UnholdCall(call.ID, sink)
		})
		run("dtmfCall", func(sink sipcore.OutcomeFunc) int {
			return svc.SendDTMF(call.ID, "123#", sink)
		})
		run("hangupCall", func(sink sipcore.OutcomeFunc) int {
			return svc.HangupCall(call.ID, sink)
		})
		svc.OnCallState(call.CallID, sipcore.CallStateDisconnected, 200, "Normal call clearing")
	}

	run("start (snapshot)", func(sink sipcore.OutcomeFunc) int {
		return svc.Start(nil, sink)
	})

	if *metricsAddr == "" {
		return
	}

	fmt.Println("Сервер метрик работает, Ctrl+C для выхода")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
