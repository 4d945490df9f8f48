// Package filter evaluates persisted filter rules against parsed messages.
//
// Rules are single predicates (field, operator, value) paired with an action.
// The engine only reports which actions matched; executing them is the
// caller's concern.
package filter

import (
	"sort"
	"strings"

	"github.com/mailvault/mailvault/internal/mime"
)

// Field identifies the message attribute a rule inspects.
type Field string

const (
	FieldSender        Field = "sender"
	FieldSubject       Field = "subject"
	FieldRecipient     Field = "recipient"
	FieldHasAttachment Field = "has_attachment"
)

// Operator is the comparison a rule applies to its field.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpExists   Operator = "exists"
)

// Action is what a matching rule requests. Execution is out of scope here.
type Action string

const (
	ActionTag     Action = "tag"
	ActionForward Action = "forward"
	ActionNotify  Action = "notify"
)

// Rule is one persisted filter definition.
type Rule struct {
	ID       int64
	Name     string
	Field    Field
	Operator Operator
	Value    string
	Action   Action
	Enabled  bool
}

// Evaluate runs every enabled rule independently against the message and
// returns the union of actions of all matching rules, sorted for a
// deterministic result regardless of rule order. Disabled rules are never
// evaluated; no rule can observe another's outcome.
func Evaluate(email *mime.ParsedEmail, rules []Rule) []Action {
	seen := make(map[Action]bool)
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if matches(email, r) {
			seen[r.Action] = true
		}
	}

	actions := make([]Action, 0, len(seen))
	for a := range seen {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// matches reports whether one rule's predicate holds. Field/operator
// combinations that make no sense (e.g. contains on has_attachment) match
// nothing rather than erroring; rule validation happens at creation time.
func matches(email *mime.ParsedEmail, r Rule) bool {
	switch r.Field {
	case FieldSender:
		return matchString(email.Sender, r.Operator, r.Value)
	case FieldSubject:
		return matchString(email.Subject, r.Operator, r.Value)
	case FieldRecipient:
		for _, addr := range email.Recipients {
			if matchString(addr, r.Operator, r.Value) {
				return true
			}
		}
		return false
	case FieldHasAttachment:
		if r.Operator != OpExists {
			return false
		}
		return len(email.Attachments) > 0
	default:
		return false
	}
}

// matchString applies a string operator case-insensitively, following the
// store's collation for rule values.
func matchString(got string, op Operator, want string) bool {
	got = strings.ToLower(got)
	want = strings.ToLower(want)
	switch op {
	case OpEquals:
		return got == want
	case OpContains:
		return want != "" && strings.Contains(got, want)
	case OpExists:
		return got != ""
	default:
		return false
	}
}

// ValidRule reports whether the rule's field/operator/action combination is
// one the engine can evaluate. Used by the rule-management surface before
// persisting.
func ValidRule(r Rule) bool {
	switch r.Action {
	case ActionTag, ActionForward, ActionNotify:
	default:
		return false
	}

	switch r.Field {
	case FieldSender, FieldSubject, FieldRecipient:
		switch r.Operator {
		case OpEquals, OpContains:
			return r.Value != ""
		case OpExists:
			return true
		}
		return false
	case FieldHasAttachment:
		return r.Operator == OpExists
	}
	return false
}
