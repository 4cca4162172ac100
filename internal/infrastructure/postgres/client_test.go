package postgres

import (
	"context"
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "busticket"}
	want := "postgres://u:p@db:5432/busticket?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
}

func TestSchemaDeclaresSeatConstraints(t *testing.T) {
	for _, want := range []string{
		"PRIMARY KEY (trip_id, number)",
		"CHECK (state IN ('available', 'locked', 'booked'))",
		"tickets_live_seat_idx",
		"PRIMARY KEY (consumer, event_id)",
	} {
		if !strings.Contains(schema, want) {
			t.Errorf("schema missing %q", want)
		}
	}
}

func TestGetTxWithoutTransaction(t *testing.T) {
	if GetTx(context.Background()) != nil {
		t.Fatal("expected no tx in a bare context")
	}
}
