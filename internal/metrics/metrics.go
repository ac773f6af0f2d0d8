// Package metrics регистрирует счётчики Prometheus для ключевых
// событий ядра: нарушений политики, подозрительного ввода и движения
// лимитов. Метрики отдаются сервисом на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PolicyViolations считает отклонённые валидатором запросы.
	PolicyViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userstate_policy_violations_total",
		Help: "Requests rejected by the field policy.",
	}, []string{"field"})

	// SuspiciousInputs считает срабатывания сканера подозрительных
	// сигнатур. Запись при этом не отклоняется.
	SuspiciousInputs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userstate_suspicious_inputs_total",
		Help: "Text field values containing suspicious substrings.",
	}, []string{"field"})

	// QuotaGrants считает успешные начисления лимитов по платежам.
	QuotaGrants = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userstate_quota_grants_total",
		Help: "Completed transactions credited to user limits.",
	}, []string{"package_id"})

	// QuotaSpends считает списания лимитов.
	QuotaSpends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "userstate_quota_spends_total",
		Help: "Successful limit decrements.",
	})

	// SpendDenied считает отказы в списании из-за нехватки лимитов.
	SpendDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "userstate_quota_spend_denied_total",
		Help: "Limit decrements refused due to insufficient balance.",
	})
)
