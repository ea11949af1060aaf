package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTypes = `
types:
  - name: General
    category_id: "100"
    access_roles: ["r1", "r2"]
    questions: ["What happened?", "Anything else?"]
  - name: Appeal
    category_id: "200"
    access_roles: ["r3"]
    ping_roles: ["p1"]
    bypass_claim_roles: ["r3"]
    anonymous_by_default: false
    requires_region: true
    restrict_replies_to_claimant: true
    questions: ["Age?", "Why?"]
    age_gate: {question: 0, min_age: 13}
regions:
  - {label: Europe, value: eu}
  - {label: North America, value: na}
`

func TestParseTicketTypes(t *testing.T) {
	tt, err := ParseTicketTypes([]byte(sampleTypes))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	general, ok := tt.Lookup("general")
	if !ok {
		t.Fatalf("lookup is expected to be case-insensitive")
	}
	if !general.Anonymous() {
		t.Errorf("anonymous should default to true")
	}
	if got := strings.Join(general.PingRoles(), ","); got != "r1,r2" {
		t.Errorf("ping roles should default to access roles, got %s", got)
	}
	appeal, _ := tt.Lookup("Appeal")
	if appeal.Anonymous() {
		t.Errorf("explicit anonymous_by_default=false ignored")
	}
	if appeal.AgeGate.DenyMessage == "" {
		t.Errorf("age gate deny message should get a default")
	}
	if !appeal.IsBypass("r3") || appeal.IsBypass("r1") {
		t.Errorf("bypass roles wrong")
	}
	if !appeal.HasAccess([]string{"x", "r3"}) || appeal.HasAccess([]string{"r1"}) {
		t.Errorf("access check wrong")
	}
	if got, ok := tt.ByCategory("200"); !ok || got.Name != "Appeal" {
		t.Errorf("ByCategory(200) = %v, %v", got, ok)
	}
	if !tt.IsRegion("EU") || tt.IsRegion("apac") {
		t.Errorf("region check wrong")
	}
	if got := strings.Join(tt.Names(), ","); got != "General,Appeal" {
		t.Errorf("names = %s", got)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	tt, err := ParseTicketTypes([]byte(sampleTypes))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	general, _ := tt.Lookup("General")
	roles := general.AccessRoles()
	roles[0] = "mutated"
	if general.AccessRoles()[0] != "r1" {
		t.Fatalf("AccessRoles leaked internal slice")
	}
}

func TestParseTicketTypesValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", `types: []`, "at least one type"},
		{"no name", "types:\n  - category_id: \"1\"\n    questions: [q]", "has no name"},
		{"duplicate", "types:\n  - {name: A, category_id: \"1\", questions: [q]}\n  - {name: a, category_id: \"2\", questions: [q]}", "duplicate"},
		{"no category", "types:\n  - {name: A, questions: [q]}", "category_id"},
		{"no questions", "types:\n  - {name: A, category_id: \"1\"}", "question"},
		{"gate range", "types:\n  - {name: A, category_id: \"1\", questions: [q], age_gate: {question: 3, min_age: 1}}", "out of range"},
		{"regions", "types:\n  - {name: A, category_id: \"1\", questions: [q], requires_region: true}", "regions are required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTicketTypes([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestLoadTicketTypesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	if err := os.WriteFile(path, []byte(sampleTypes), 0o600); err != nil {
		t.Fatal(err)
	}
	tt, err := LoadTicketTypes(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tt.Types) != 2 {
		t.Fatalf("types = %d", len(tt.Types))
	}
	if _, err := LoadTicketTypes(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestShippedCatalogueLoads(t *testing.T) {
	types, err := LoadTicketTypes("../../config/ticket_types.yaml")
	if err != nil {
		t.Fatal(err)
	}
	appeal, ok := types.Lookup("appeal")
	if !ok || !appeal.RequiresRegion || appeal.Anonymous() || appeal.AgeGate == nil {
		t.Fatalf("appeal = %+v", appeal)
	}
	if !types.IsRegion("eu") {
		t.Fatal("eu is not a region")
	}
}
