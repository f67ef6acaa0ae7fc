package postgres

import (
	"testing"
	"time"
)

func TestDSN(t *testing.T) {
	cases := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://u:p@db:5433/x", Host: "ignored"},
			want: "postgres://u:p@db:5433/x",
		},
		{
			name: "defaults port and sslmode",
			cfg:  ClientConfig{Host: "localhost", Database: "sandbox", User: "sandbox", Password: "pw"},
			want: "postgres://sandbox:pw@localhost:5432/sandbox?sslmode=disable",
		},
		{
			name: "custom port and sslmode",
			cfg:  ClientConfig{Host: "pg", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@pg:6543/d?sslmode=require",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DSN(tc.cfg); got != tc.want {
				t.Fatalf("DSN = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_price_history.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
}

func TestNullTime(t *testing.T) {
	if nullTime(time.Time{}) != nil {
		t.Fatal("zero time should map to NULL")
	}
	now := time.Now()
	if p := nullTime(now); p == nil || !p.Equal(now) {
		t.Fatal("non-zero time should be passed through")
	}
}
