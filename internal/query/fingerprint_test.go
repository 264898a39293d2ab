package query

import (
	"strings"
	"testing"
)

func TestFingerprintDeterministic(t *testing.T) {
	sql := "SELECT name FROM users WHERE created_at > '2024-01-01'"
	a := Fingerprint(sql)
	b := Fingerprint(sql)
	if a.Hash != b.Hash {
		t.Errorf("hash not stable across calls: %s vs %s", a.Hash, b.Hash)
	}
	if a.Hash == "" || a.Pattern == "" {
		t.Errorf("empty hash or pattern: %+v", a)
	}
}

func TestFingerprintIgnoresLiterals(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"numeric literal", "SELECT * FROM users WHERE id = 1", "SELECT * FROM users WHERE id = 2"},
		{"string literal", "SELECT * FROM users WHERE name = 'alice'", "SELECT * FROM users WHERE name = 'bob'"},
		{"whitespace", "SELECT  *  FROM users WHERE id = 1", "SELECT * FROM users WHERE id = 9"},
		{"in list values", "SELECT * FROM users WHERE id IN (1, 2)", "SELECT * FROM users WHERE id IN (3, 4)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := Fingerprint(tt.a)
			fb := Fingerprint(tt.b)
			if fa.Hash != fb.Hash {
				t.Errorf("hashes differ:\n  %s -> %s\n  %s -> %s", tt.a, fa.Hash, tt.b, fb.Hash)
			}
		})
	}
}

func TestFingerprintDistinguishesStructure(t *testing.T) {
	a := Fingerprint("SELECT * FROM users WHERE id = 1")
	b := Fingerprint("SELECT * FROM orders WHERE id = 1")
	if a.Hash == b.Hash {
		t.Error("different tables should produce different hashes")
	}
}

func TestFingerprintTablesAndJoins(t *testing.T) {
	fp := Fingerprint("SELECT u.name, o.total FROM users u JOIN orders o ON o.user_id = u.id WHERE o.total > 100 AND u.active = 1")
	if fp.JoinCount != 1 {
		t.Errorf("join count = %d, want 1", fp.JoinCount)
	}
	if len(fp.Tables) != 2 {
		t.Fatalf("tables = %v, want [users orders]", fp.Tables)
	}
	if fp.Tables[0] != "users" || fp.Tables[1] != "orders" {
		t.Errorf("tables = %v, want [users orders]", fp.Tables)
	}
	if fp.WhereComplexity != 2 {
		t.Errorf("where complexity = %d, want 2", fp.WhereComplexity)
	}
}

func TestFingerprintUnparseableFallback(t *testing.T) {
	// Postgres-specific syntax the parser rejects still fingerprints, and
	// stays literal-independent.
	a := Fingerprint("SELECT id::text FROM users WHERE id = 1")
	b := Fingerprint("SELECT id::text FROM users WHERE id = 42")
	if a.Hash != b.Hash {
		t.Errorf("fallback hashes differ: %s vs %s", a.Hash, b.Hash)
	}
	if len(a.Tables) != 1 || a.Tables[0] != "users" {
		t.Errorf("fallback tables = %v, want [users]", a.Tables)
	}
	if a.WhereComplexity != 1 {
		t.Errorf("fallback where complexity = %d, want 1", a.WhereComplexity)
	}
}

func TestSanitizeRedactsLiterals(t *testing.T) {
	out := Sanitize("SELECT * FROM users WHERE email = 'a@example.com' AND id = 42", true)
	if strings.Contains(out, "a@example.com") || strings.Contains(out, "42") {
		t.Errorf("literals leaked: %s", out)
	}
	if !strings.Contains(out, "?") {
		t.Errorf("expected placeholders in %q", out)
	}
}

func TestSanitizeDisabled(t *testing.T) {
	sql := "SELECT * FROM users WHERE name = 'alice'"
	if out := Sanitize(sql, false); out != sql {
		t.Errorf("disabled sanitize mutated input: %q", out)
	}
}

func TestSanitizeUnparseable(t *testing.T) {
	out := Sanitize("SELECT id::text FROM users WHERE name = 'secret'", true)
	if strings.Contains(out, "secret") {
		t.Errorf("literal leaked through fallback: %s", out)
	}
}
