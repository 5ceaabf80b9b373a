package scope

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		id           string
		wantKind     Kind
		wantCustomer string
		wantBranch   string
	}{
		{"07CTIN55", Staff, "", ""},
		{"12CTIN1", Staff, "", ""},
		{"C123_abc", Customer, "C123", ""},
		{"C999_f81a2", Customer, "C999", ""},
		{"HMO12", Branch, "", "HMO"},
		{"gdl3", Branch, "", "GDL"},
		{"", Unknown, "", ""},
		{"   ", Unknown, "", ""},
		{"_abc", Unknown, "", ""},     // empty customer code
		{"07ctin55", Unknown, "", ""}, // marker is case-sensitive
		{"123456", Unknown, "", ""},   // digits only match nothing
	}

	for _, tt := range tests {
		got := Parse(tt.id)
		if got.Kind != tt.wantKind {
			t.Errorf("Parse(%q).Kind = %v, want %v", tt.id, got.Kind, tt.wantKind)
		}
		if got.CustomerCode != tt.wantCustomer {
			t.Errorf("Parse(%q).CustomerCode = %q, want %q", tt.id, got.CustomerCode, tt.wantCustomer)
		}
		if got.BranchMnemonic != tt.wantBranch {
			t.Errorf("Parse(%q).BranchMnemonic = %q, want %q", tt.id, got.BranchMnemonic, tt.wantBranch)
		}
	}
}

func TestParse_StaffBeatsBranchPattern(t *testing.T) {
	// "07CTIN55" is digits-letters-digits so it can't match the branch
	// pattern, but "CTIN55" alone would. Make sure a bare mnemonic-like
	// staff fragment is still a branch.
	got := Parse("CTIN55")
	if got.Kind != Branch || got.BranchMnemonic != "CTIN" {
		t.Errorf("Parse(CTIN55) = %+v, want Branch/CTIN", got)
	}
}

func TestKindString(t *testing.T) {
	if Staff.String() != "staff" || Unknown.String() != "unknown" {
		t.Error("Kind.String() labels wrong")
	}
}
