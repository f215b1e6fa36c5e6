package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBotMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBotMetrics(reg)

	m.ObserveWebhook("accepted", 20*time.Millisecond)
	m.ObserveWebhook("accepted", 30*time.Millisecond)
	m.ObserveWebhook("duplicate", time.Millisecond)
	m.ObserveCommand("login", "patient", "otp_sent", time.Millisecond)
	m.ObserveOutbound("text", true)
	m.ObserveOutbound("text", false)
	m.ObserveSMS("twilio", true)

	if got := testutil.ToFloat64(m.webhookTotal.WithLabelValues("accepted")); got != 2 {
		t.Fatalf("accepted webhooks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.commandTotal.WithLabelValues("login", "patient", "otp_sent")); got != 1 {
		t.Fatalf("login commands = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.outboundTotal.WithLabelValues("text", "failed")); got != 1 {
		t.Fatalf("failed outbound = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.smsTotal.WithLabelValues("twilio", "sent")); got != 1 {
		t.Fatalf("twilio sms = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.webhookLatency); n != 1 {
		t.Fatalf("latency series = %d, want 1", n)
	}
}

func TestBotMetricsDoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewBotMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	NewBotMetrics(reg)
}

func TestBotMetricsNilSafe(t *testing.T) {
	var m *BotMetrics
	m.ObserveWebhook("accepted", time.Second)
	m.ObserveCommand("help", "unknown", "ok", time.Second)
	m.ObserveOutbound("text", true)
	m.ObserveSMS("log", true)
}
