package types

import (
	"encoding/json"
	"fmt"
	"testing"
)

// TestSecretStringRedactsInFmt verifies fmt output never contains the raw value.
func TestSecretStringRedactsInFmt(t *testing.T) {
	secret := SecretString("postgres://user:hunter2@db:5432/podflow")

	got := fmt.Sprintf("dsn=%s", secret)
	if got != "dsn=***REDACTED***" {
		t.Errorf("fmt output = %q, want redacted placeholder", got)
	}
	if fmt.Sprint(secret) == string(secret) {
		t.Error("fmt.Sprint leaked the raw secret value")
	}
}

// TestSecretStringRedactsInJSON verifies JSON serialization is redacted, even
// when the secret is embedded in a larger struct.
func TestSecretStringRedactsInJSON(t *testing.T) {
	payload := struct {
		Token SecretString `json:"token"`
	}{Token: "provider-api-token-xyz"}

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}
	if string(body) != `{"token":"***REDACTED***"}` {
		t.Errorf("marshaled = %s, want redacted token", body)
	}
}

// TestSecretStringUnmask verifies the raw value is recoverable.
func TestSecretStringUnmask(t *testing.T) {
	secret := SecretString("raw-value")
	if secret.Unmask() != "raw-value" {
		t.Errorf("Unmask() = %q, want %q", secret.Unmask(), "raw-value")
	}
}
