package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BotMetrics exposes counters/histograms for the WhatsApp bot.
type BotMetrics struct {
	webhookTotal   *prometheus.CounterVec
	webhookLatency prometheus.Histogram
	commandTotal   *prometheus.CounterVec
	commandLatency *prometheus.HistogramVec
	outboundTotal  *prometheus.CounterVec
	smsTotal       *prometheus.CounterVec
}

func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "whatsapp_bot",
			Name:      "webhook_total",
			Help:      "Total inbound WhatsApp webhooks by outcome",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "care",
			Subsystem: "whatsapp_bot",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of WhatsApp webhook processing",
			Buckets:   prometheus.DefBuckets,
		}),
		commandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "whatsapp_bot",
			Name:      "commands_total",
			Help:      "Routed chat commands",
		}, []string{"command", "user_kind", "outcome"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "care",
			Subsystem: "whatsapp_bot",
			Name:      "command_latency_seconds",
			Help:      "Time spent routing a chat command",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "whatsapp_bot",
			Name:      "outbound_total",
			Help:      "Outbound WhatsApp messages",
		}, []string{"kind", "status"}),
		smsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "whatsapp_bot",
			Name:      "otp_sms_total",
			Help:      "Passcode SMS sends by provider",
		}, []string{"provider", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.webhookLatency, m.commandTotal, m.commandLatency, m.outboundTotal, m.smsTotal)
	return m
}

func (m *BotMetrics) ObserveWebhook(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(status).Inc()
	m.webhookLatency.Observe(d.Seconds())
}

func (m *BotMetrics) ObserveCommand(command, userKind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.commandTotal.WithLabelValues(command, userKind, outcome).Inc()
	m.commandLatency.WithLabelValues(command).Observe(d.Seconds())
}

func (m *BotMetrics) ObserveOutbound(kind string, ok bool) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(kind, status(ok)).Inc()
}

func (m *BotMetrics) ObserveSMS(provider string, ok bool) {
	if m == nil {
		return
	}
	m.smsTotal.WithLabelValues(provider, status(ok)).Inc()
}

func status(ok bool) string {
	if ok {
		return "sent"
	}
	return "failed"
}
