package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
)

func TestComputeTokenSortsKeysAndInjectsPassword(t *testing.T) {
	t.Parallel()

	params := map[string]any{
		"TerminalKey": "TermKey123",
		"Amount":      int64(19200),
		"OrderId":     "order-42",
		"Description": "Monthly pass",
	}

	// Keys in order: Amount, Description, OrderId, Password, TerminalKey.
	sum := sha256.Sum256([]byte("19200" + "Monthly pass" + "order-42" + "secret" + "TermKey123"))
	want := hex.EncodeToString(sum[:])

	if got := ComputeToken(params, "secret"); got != want {
		t.Fatalf("token = %s, want %s", got, want)
	}
}

func TestComputeTokenIgnoresExcludedFields(t *testing.T) {
	t.Parallel()

	base := map[string]any{
		"TerminalKey": "T",
		"Amount":      int64(100),
	}
	withExcluded := map[string]any{
		"TerminalKey": "T",
		"Amount":      int64(100),
		"Token":       "stale",
		"Receipt":     map[string]any{"Email": "a@b.c"},
		"DATA":        map[string]any{"k": "v"},
	}

	if ComputeToken(base, "pw") != ComputeToken(withExcluded, "pw") {
		t.Fatal("excluded fields changed the signature")
	}
}

func TestComputeTokenCoercesJSONScalars(t *testing.T) {
	t.Parallel()

	// Booleans and numbers arrive as JSON-decoded values on notifications.
	raw := []byte(`{"TerminalKey":"T","Success":true,"Amount":19200,"Status":"CONFIRMED"}`)
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	sum := sha256.Sum256([]byte("19200" + "pw" + "CONFIRMED" + "true" + "T"))
	want := hex.EncodeToString(sum[:])

	if got := ComputeToken(fields, "pw"); got != want {
		t.Fatalf("token = %s, want %s", got, want)
	}
}

func TestVerifyNotification(t *testing.T) {
	t.Parallel()

	fields := map[string]any{
		"TerminalKey": "T",
		"OrderId":     "order-1",
		"Status":      "CONFIRMED",
		"Success":     true,
		"Amount":      float64(5000),
	}
	fields["Token"] = ComputeToken(fields, "pw")

	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	ok, err := VerifyNotification(raw, "pw")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected valid signature")
	}

	ok, err = VerifyNotification(raw, "wrong-password")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("expected invalid signature with wrong password")
	}
}
