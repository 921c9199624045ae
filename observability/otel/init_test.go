package otel

import (
	"context"
	"testing"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "wagerd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{Traces: true}); err == nil {
		t.Fatalf("expected missing service name error")
	}
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("authorization=Bearer x, tenant = wager ,broken,=skip")
	if len(headers) != 2 || headers["authorization"] != "Bearer x" || headers["tenant"] != "wager" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestResourceCarriesLedgerAttributes(t *testing.T) {
	cfg := Config{
		ServiceName:    "wagerd",
		ServiceVersion: "1.2.3",
		Environment:    "staging",
		InstanceID:     "node-a",
		Ledger:         map[string]string{"policy": "strict", "storage": "leveldb", "empty": ""},
	}
	res, err := cfg.Resource()
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	want := map[string]string{
		"service.name":           "wagerd",
		"service.version":        "1.2.3",
		"deployment.environment": "staging",
		"service.instance.id":    "node-a",
		"wager.policy":           "strict",
		"wager.storage":          "leveldb",
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("attribute %s = %q, want %q", key, got[key], value)
		}
	}
	if _, ok := got["wager.empty"]; ok {
		t.Fatalf("empty ledger values must be skipped")
	}
}
