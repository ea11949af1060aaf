package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgeGate auto-denies an intake when the answer to Question parses as a number below MinAge.
type AgeGate struct {
	Question    int    `yaml:"question"`
	MinAge      int    `yaml:"min_age"`
	DenyMessage string `yaml:"deny_message"`
}

type TicketType struct {
	Name                      string   `yaml:"name"`
	CategoryID                string   `yaml:"category_id"`
	LogChannelID              string   `yaml:"log_channel_id"`
	Access                    []string `yaml:"access_roles"`
	Ping                      []string `yaml:"ping_roles"`
	BypassClaim               []string `yaml:"bypass_claim_roles"`
	RequiresRegion            bool     `yaml:"requires_region"`
	AnonymousByDefault        *bool    `yaml:"anonymous_by_default"`
	RestrictRepliesToClaimant bool     `yaml:"restrict_replies_to_claimant"`
	StaffThread               bool     `yaml:"staff_thread"`
	WelcomeMessage            string   `yaml:"welcome_message"`
	CompletionMessage         string   `yaml:"completion_message"`
	Questions                 []string `yaml:"questions"`
	AgeGate                   *AgeGate `yaml:"age_gate"`
}

// AccessRoles returns the roles allowed to see and answer tickets of this type.
func (t *TicketType) AccessRoles() []string { return append([]string(nil), t.Access...) }

// PingRoles returns the roles mentioned when a ticket of this type opens or is moved here.
// Defaults to the access roles.
func (t *TicketType) PingRoles() []string {
	if len(t.Ping) == 0 {
		return t.AccessRoles()
	}
	return append([]string(nil), t.Ping...)
}

// BypassRoles keep their send permission while a ticket is claimed.
func (t *TicketType) BypassRoles() []string { return append([]string(nil), t.BypassClaim...) }

// Anonymous reports the default relay identity mode for staff replies. Defaults to true.
func (t *TicketType) Anonymous() bool {
	if t.AnonymousByDefault == nil {
		return true
	}
	return *t.AnonymousByDefault
}

// IsBypass reports whether role keeps reply rights under a claim.
func (t *TicketType) IsBypass(role string) bool {
	for _, r := range t.BypassClaim {
		if r == role {
			return true
		}
	}
	return false
}

// HasAccess reports whether any of roles grants access to this type.
func (t *TicketType) HasAccess(roles []string) bool {
	for _, r := range roles {
		for _, a := range t.Access {
			if r == a {
				return true
			}
		}
	}
	return false
}

type Region struct {
	Label string `yaml:"label"`
	Value string `yaml:"value"`
}

// TicketTypes is the validated ticket-type catalogue.
type TicketTypes struct {
	Types   []TicketType `yaml:"types"`
	Regions []Region     `yaml:"regions"`
}

// LoadTicketTypes reads and validates the YAML catalogue at path.
func LoadTicketTypes(path string) (*TicketTypes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ticket types: %w", err)
	}
	return ParseTicketTypes(data)
}

func ParseTicketTypes(data []byte) (*TicketTypes, error) {
	var tt TicketTypes
	if err := yaml.Unmarshal(data, &tt); err != nil {
		return nil, fmt.Errorf("ticket types: %w", err)
	}
	if err := tt.Validate(); err != nil {
		return nil, err
	}
	return &tt, nil
}

func (c *TicketTypes) Validate() error {
	if len(c.Types) == 0 {
		return errors.New("ticket types: at least one type is required")
	}
	seen := make(map[string]bool, len(c.Types))
	needRegions := false
	for i := range c.Types {
		t := &c.Types[i]
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return fmt.Errorf("ticket types: type #%d has no name", i+1)
		}
		key := strings.ToLower(t.Name)
		if seen[key] {
			return fmt.Errorf("ticket types: duplicate type %q", t.Name)
		}
		seen[key] = true
		if t.CategoryID == "" {
			return fmt.Errorf("ticket types: %s: category_id is required", t.Name)
		}
		if len(t.Questions) == 0 {
			return fmt.Errorf("ticket types: %s: at least one question is required", t.Name)
		}
		if g := t.AgeGate; g != nil {
			if g.Question < 0 || g.Question >= len(t.Questions) {
				return fmt.Errorf("ticket types: %s: age_gate.question out of range", t.Name)
			}
			if g.DenyMessage == "" {
				g.DenyMessage = "Sorry, you do not meet the age requirement for this ticket type."
			}
		}
		if t.RequiresRegion {
			needRegions = true
		}
	}
	if needRegions && len(c.Regions) == 0 {
		return errors.New("ticket types: regions are required when a type requires region selection")
	}
	return nil
}

// Lookup finds a type by name, case-insensitively.
func (c *TicketTypes) Lookup(name string) (*TicketType, bool) {
	for i := range c.Types {
		if strings.EqualFold(c.Types[i].Name, name) {
			return &c.Types[i], true
		}
	}
	return nil, false
}

func (c *TicketTypes) Names() []string {
	out := make([]string, len(c.Types))
	for i, t := range c.Types {
		out[i] = t.Name
	}
	return out
}

// ByCategory finds the type whose tickets live under category id.
func (c *TicketTypes) ByCategory(categoryID string) (*TicketType, bool) {
	for i := range c.Types {
		if c.Types[i].CategoryID == categoryID {
			return &c.Types[i], true
		}
	}
	return nil, false
}

// IsRegion reports whether value is a configured region value.
func (c *TicketTypes) IsRegion(value string) bool {
	for _, r := range c.Regions {
		if strings.EqualFold(r.Value, value) {
			return true
		}
	}
	return false
}
