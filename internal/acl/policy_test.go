package acl

import (
	"os"
	"path/filepath"
	"testing"
)

func testPolicy() *Policy {
	return &Policy{
		Principals: []Principal{
			{
				Name: PrincipalWSP,
				Rules: []Rule{
					{Pattern: "*", Commands: []string{"*"}},
				},
			},
			{
				Name: PrincipalExchange,
				Rules: []Rule{
					{Pattern: "STREAM:credit:*", Commands: []string{"XADD", "XREADGROUP", "XACK", "XAUTOCLAIM", "XPENDING"}},
					{Pattern: "STREAM:pledge:*", Commands: []string{"XREADGROUP", "XACK", "XAUTOCLAIM", "XPENDING"}},
					{Pattern: "STREAM:settlement:*", Commands: []string{"XADD", "XREADGROUP", "XACK", "XAUTOCLAIM", "XPENDING"}},
					{Pattern: "CI:*", Commands: []string{"GET", "MGET", "EXISTS"}},
				},
			},
		},
	}
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"*", "anything", true},
		{"CI:*", "CI:u1:BTC", true},
		{"CI:*", "STREAM:credit:requests", false},
		{"STREAM:credit:*", "STREAM:credit:requests", true},
		{"STREAM:credit:*", "STREAM:pledge:events", false},
		{"CI:u?:BTC", "CI:u1:BTC", true},
		{"CI:u?:BTC", "CI:u12:BTC", false},
		{"CI:u1:BTC", "CI:u1:BTC", true},
		{"CI:u1:BTC", "CI:u1:ETH", false},
	}
	for _, c := range cases {
		if got := MatchPattern(c.pattern, c.key); got != c.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", c.pattern, c.key, got, c.want)
		}
	}
}

func TestExchangeCanAppendToCreditStreams(t *testing.T) {
	p := testPolicy()
	if !p.Allows(PrincipalExchange, "XADD", "STREAM:credit:decisions") {
		t.Error("Exchange should be allowed to append decision events")
	}
	if !p.Allows(PrincipalExchange, "xadd", "STREAM:credit:decisions") {
		t.Error("Command matching should be case-insensitive")
	}
	if !p.Allows(PrincipalExchange, "XREADGROUP", "STREAM:credit:requests") {
		t.Error("Exchange should be allowed to read the request stream")
	}
}

func TestExchangeCannotWriteInventoryDirectly(t *testing.T) {
	p := testPolicy()
	if !p.Allows(PrincipalExchange, "GET", "CI:u1:BTC") {
		t.Error("Exchange should be allowed to read CI keys")
	}
	for _, cmd := range []string{"SET", "DEL", "INCRBYFLOAT"} {
		if p.Allows(PrincipalExchange, cmd, "CI:u1:BTC") {
			t.Errorf("Exchange must not be allowed %s on CI keys", cmd)
		}
	}
	if p.Allows(PrincipalExchange, "GET", "PLEDGE:internal:state") {
		t.Error("Exchange must not read arbitrary WSP keys")
	}
}

func TestCheckExchangeBoundary(t *testing.T) {
	p := testPolicy()
	streams := []string{"STREAM:credit:requests", "STREAM:credit:decisions"}
	if err := p.CheckExchangeBoundary(streams, "CI:u1:BTC"); err != nil {
		t.Errorf("Expected boundary check to pass: %v", err)
	}

	// Granting SET on CI keys must fail the boundary check.
	broken := testPolicy()
	broken.Principals[1].Rules = append(broken.Principals[1].Rules,
		Rule{Pattern: "CI:*", Commands: []string{"SET"}})
	if err := broken.CheckExchangeBoundary(streams, "CI:u1:BTC"); err == nil {
		t.Error("Expected boundary check to fail when exchange can SET CI keys")
	}
}

func TestLoadPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `principals:
  - name: wsp
    rules:
      - pattern: "*"
        commands: ["*"]
  - name: exchange
    rules:
      - pattern: "STREAM:credit:*"
        commands: [XADD, XREADGROUP, XACK]
      - pattern: "CI:*"
        commands: [GET]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(p.Principals) != 2 {
		t.Fatalf("Expected 2 principals, got %d", len(p.Principals))
	}
	if !p.Allows(PrincipalExchange, "XADD", "STREAM:credit:decisions") {
		t.Error("Loaded policy should allow exchange XADD on credit streams")
	}
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `principals:
  - name: exchange
    rules:
      - pattern: ""
        commands: [GET]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected Load to reject rule without pattern")
	}
}
