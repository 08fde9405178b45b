package db

import (
	"testing"

	"StemMixer/config"

	drivermysql "github.com/go-sql-driver/mysql"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{
		DBUser:     "mixer",
		DBPassword: "secret",
		DBHost:     "db.local",
		DBPort:     "3307",
		DBName:     "stemmixer",
	}

	parsed, err := drivermysql.ParseDSN(DSN(cfg))
	if err != nil {
		t.Fatalf("ParseDSN: %v", err)
	}
	if parsed.User != "mixer" || parsed.Passwd != "secret" {
		t.Errorf("credentials = %q / %q", parsed.User, parsed.Passwd)
	}
	if parsed.Addr != "db.local:3307" || parsed.DBName != "stemmixer" || !parsed.ParseTime {
		t.Errorf("parsed = %+v", parsed)
	}
}
