package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

const validConfig = `
vault:
  id: main
  signers:
    - "0x0000000000000000000000000000000000000001"
    - "0x0000000000000000000000000000000000000002"
    - "0x0000000000000000000000000000000000000003"
  threshold: 2
oracle:
  updaters:
    - "0x0000000000000000000000000000000000000010"
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, validConfig))
	if err != nil {
		t.Fatalf("Load should succeed: %v", err)
	}

	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("unexpected default interval: %s", cfg.Scheduler.Interval)
	}
	if cfg.Vault.TimelockDelay != 24*time.Hour {
		t.Fatalf("unexpected default timelock delay: %s", cfg.Vault.TimelockDelay)
	}
	if cfg.Oracle.TVLDropFraction != 0.3 {
		t.Fatalf("unexpected default drop fraction: %v", cfg.Oracle.TVLDropFraction)
	}
	if cfg.Alerting.Enabled {
		t.Fatal("alerting should default to disabled")
	}
}

func TestLoadRejectsBadSigner(t *testing.T) {
	body := `
vault:
  id: main
  signers: ["not-an-address", "0x0000000000000000000000000000000000000002"]
  threshold: 2
oracle:
  updaters: ["0x0000000000000000000000000000000000000010"]
`
	if _, err := Load(writeConfigFile(t, body)); err == nil {
		t.Fatal("bad signer address should fail validation")
	}
}

func TestLoadRejectsThresholdAboveSignerCount(t *testing.T) {
	body := `
vault:
  id: main
  signers: ["0x0000000000000000000000000000000000000001"]
  threshold: 3
oracle:
  updaters: ["0x0000000000000000000000000000000000000010"]
`
	if _, err := Load(writeConfigFile(t, body)); err == nil {
		t.Fatal("threshold above signer count should fail validation")
	}
}

func TestLoadRejectsDropFractionOutOfRange(t *testing.T) {
	body := validConfig + `
  tvl_drop_fraction: 1.5
`
	if _, err := Load(writeConfigFile(t, body)); err == nil {
		t.Fatal("drop fraction outside [0, 1) should fail validation")
	}
}

func TestLoadRejectsTelegramWithoutToken(t *testing.T) {
	body := validConfig + `
alerting:
  telegram:
    enabled: true
    chat_id: "123"
`
	if _, err := Load(writeConfigFile(t, body)); err == nil {
		t.Fatal("telegram without bot token should fail validation")
	}
}

func TestSignerAddressesParse(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, validConfig))
	if err != nil {
		t.Fatalf("Load should succeed: %v", err)
	}

	addrs := cfg.Vault.SignerAddresses()
	if len(addrs) != 3 {
		t.Fatalf("expected 3 signer addresses, got %d", len(addrs))
	}
	if addrs[0].Hex() != "0x0000000000000000000000000000000000000001" {
		t.Fatalf("unexpected first signer: %s", addrs[0].Hex())
	}
}
