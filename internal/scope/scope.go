// Package scope interprets the opaque session id that every request
// carries. The id encodes who is asking: internal staff, an identified
// customer, or a walk-in session tied to a physical branch. The
// sales-rule and order-status tools use this to decide which promotion
// rows apply and which orders are visible.
package scope

import (
	"regexp"
	"strings"
)

// Kind classifies a session id.
type Kind int

const (
	// Unknown means the id matched no known pattern. Callers treat it
	// as the least-privileged scope.
	Unknown Kind = iota

	// Staff ids grant any-order visibility (internal personnel).
	Staff

	// Customer ids scope order visibility to the customer's own code.
	Customer

	// Branch ids scope promotion lookups to one physical branch.
	Branch
)

func (k Kind) String() string {
	switch k {
	case Staff:
		return "staff"
	case Customer:
		return "customer"
	case Branch:
		return "branch"
	default:
		return "unknown"
	}
}

// Scope is the parsed form of a session id.
type Scope struct {
	Kind Kind

	// CustomerCode is set for Customer scopes (segment before the first "_").
	CustomerCode string

	// BranchMnemonic is set for Branch scopes (leading letters, upper-cased).
	BranchMnemonic string
}

// Internal staff ids look like "07CTIN55": two digits, the CTIN marker,
// then the employee number.
var staffPattern = regexp.MustCompile(`^\d{2}CTIN\d+$`)

// Branch ids look like "HMO12": an alphabetic branch mnemonic followed
// by digits.
var branchPattern = regexp.MustCompile(`^([A-Za-z]+)(\d+)$`)

// Parse interprets a session id. It never fails: ids that match no
// pattern come back as Unknown and downstream authorization treats
// them as the least-privileged case.
func Parse(sessionID string) Scope {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return Scope{Kind: Unknown}
	}

	if staffPattern.MatchString(id) {
		return Scope{Kind: Staff}
	}

	if i := strings.Index(id, "_"); i > 0 {
		return Scope{Kind: Customer, CustomerCode: id[:i]}
	}

	if m := branchPattern.FindStringSubmatch(id); m != nil {
		return Scope{Kind: Branch, BranchMnemonic: strings.ToUpper(m[1])}
	}

	return Scope{Kind: Unknown}
}
