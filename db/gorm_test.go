package db

import (
	"strings"
	"testing"

	"SliceFM/config"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{
		DBUser:     "fm",
		DBPassword: "secret",
		DBHost:     "db.local",
		DBPort:     "3307",
		DBName:     "slices",
	}
	dsn := DSN(cfg)
	if !strings.HasPrefix(dsn, "fm:secret@tcp(db.local:3307)/slices?") {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	for _, want := range []string{"parseTime=true", "charset=utf8mb4"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
}
