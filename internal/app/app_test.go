package app

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"

	"github.com/patcreator/alx-backend-security/internal/app/bootstrap"
	"github.com/patcreator/alx-backend-security/internal/auth"
	"github.com/patcreator/alx-backend-security/internal/database"
)

func TestReadPort(t *testing.T) {
	t.Setenv("IPGUARD_PORT_VALID", "12345")
	if got := readPort("IPGUARD_PORT_VALID"); got != 12345 {
		t.Fatalf("readPort returned %d, want 12345", got)
	}

	t.Setenv("IPGUARD_PORT_INVALID", "not-a-number")
	if got := readPort("IPGUARD_PORT_INVALID"); got != 0 {
		t.Fatalf("readPort with invalid value returned %d, want 0", got)
	}

	t.Setenv("IPGUARD_PORT_ZERO", "0")
	if got := readPort("IPGUARD_PORT_ZERO"); got != 0 {
		t.Fatalf("readPort with zero value returned %d, want 0", got)
	}
}

func TestResolvePort(t *testing.T) {
	t.Run("primary env overrides fallback", func(t *testing.T) {
		t.Setenv("PRIMARY_PORT", "5050")
		if got := resolvePort("PRIMARY_PORT", "LEGACY_PORT", 8080); got != 5050 {
			t.Fatalf("resolvePort returned %d, want 5050", got)
		}
	})

	t.Run("legacy env used when primary missing", func(t *testing.T) {
		t.Setenv("LEGACY_PORT", "6060")
		if got := resolvePort("PRIMARY_MISSING", "LEGACY_PORT", 8080); got != 6060 {
			t.Fatalf("resolvePort returned %d, want 6060", got)
		}
	})

	t.Run("fallback used when env unset", func(t *testing.T) {
		if got := resolvePort("UNSET_PRIMARY", "UNSET_LEGACY", 9090); got != 9090 {
			t.Fatalf("resolvePort returned %d, want 9090", got)
		}
	})
}

// useSQLiteServices points the commands at a fresh sqlite database shared by
// every invocation in the test.
func useSQLiteServices(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ipguard.db")

	previous := setupServices
	setupServices = func() (*bootstrap.Services, error) {
		db, err := database.SetupDB(database.WithDialector(sqlite.Open(path)))
		if err != nil {
			return nil, err
		}
		return bootstrap.Build(db, nil)
	}
	t.Cleanup(func() { setupServices = previous })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBlockCommandReportsCreatedThenExisting(t *testing.T) {
	useSQLiteServices(t)

	out, err := execute(t, "block-ip", "203.0.113.5")
	if err != nil {
		t.Fatalf("block-ip: %v", err)
	}
	if strings.TrimSpace(out) != "Successfully blocked IP: 203.0.113.5" {
		t.Fatalf("unexpected output %q", out)
	}

	out, err = execute(t, "block-ip", "203.0.113.5")
	if err != nil {
		t.Fatalf("block-ip again: %v", err)
	}
	if strings.TrimSpace(out) != "IP 203.0.113.5 was already blocked" {
		t.Fatalf("unexpected output %q", out)
	}

	out, err = execute(t, "unblock-ip", "203.0.113.5")
	if err != nil {
		t.Fatalf("unblock-ip: %v", err)
	}
	if !strings.Contains(out, "Successfully unblocked") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestBlockCommandRequiresAddress(t *testing.T) {
	useSQLiteServices(t)

	if _, err := execute(t, "block-ip"); err == nil {
		t.Fatal("expected an argument error")
	}
}

func TestDetectAndCleanupCommands(t *testing.T) {
	useSQLiteServices(t)

	out, err := execute(t, "detect")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if strings.TrimSpace(out) != "Anomaly detection complete. Found 0 suspicious IPs." {
		t.Fatalf("unexpected output %q", out)
	}

	out, err = execute(t, "cleanup")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if strings.TrimSpace(out) != "Cleaned up 0 old logs" {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := execute(t, "cleanup", "--days", "0"); err == nil {
		t.Fatal("expected an error for zero days")
	}
}

func TestTokenCommandMintsAdminToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := execute(t, "token", "--subject", "ops")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	authenticator, err := auth.NewAuthenticator("cli-secret")
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	claims, err := authenticator.ValidateJWT(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("validate minted token: %v", err)
	}
	if claims["sub"] != "ops" || claims["role"] != auth.RoleAdmin {
		t.Fatalf("unexpected claims %v", claims)
	}
}

func TestTokenCommandNeedsSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := execute(t, "token"); err == nil {
		t.Fatal("expected an error without JWT_SECRET")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "ipguard ") {
		t.Fatalf("unexpected output %q", out)
	}
}
