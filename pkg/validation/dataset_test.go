package validation

import (
	"testing"
)

func TestValidateDatasetID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid identifiers
		{"simple", "salesforce", false},
		{"single char", "a", false},
		{"with digit", "jira2", false},
		{"with underscore", "sales_cases", false},
		{"with hyphen", "sales-cases", false},
		{"mixed case", "SalesForce", false},
		{"max length", "a123456789012345678901234567890123456789012345678901234567890123", false},

		// Invalid identifiers
		{"empty", "", true},
		{"path traversal", "../etc/passwd", true},
		{"leading hyphen", "-salesforce", true},
		{"slash", "sales/force", true},
		{"space", "sales force", true},
		{"newline", "sales\nforce", true},
		{"too long", "a1234567890123456789012345678901234567890123456789012345678901234", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDatasetID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDatasetID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDatasetIDs(t *testing.T) {
	if err := ValidateDatasetIDs([]string{"salesforce", "jira"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := ValidateDatasetIDs([]string{"ok", "../bad", "also bad"})
	if err == nil {
		t.Fatal("expected an error")
	}
}
