package validation

import "testing"

func TestValidateToolName(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		wantErr bool
	}{
		{"simple name", "echo", false},
		{"with underscore", "long_running_task", false},
		{"with dot and dash", "sandbox.exec-v2", false},
		{"empty", "", true},
		{"too long", stringOfLen(MaxToolNameLen + 1), true},
		{"exactly max length", stringOfLen(MaxToolNameLen), false},
		{"unsafe chars space", "do stuff", true},
		{"unsafe chars slash", "tools/call", true},
		{"sql injection attempt", "'; DROP TABLE tools; --", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateToolName(tt.tool)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateToolName(%q) error = %v, wantErr %v", tt.tool, err, tt.wantErr)
			}
		})
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestValidateConnectionID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid UUID", "550e8400-e29b-41d4-a716-446655440000", false},
		{"valid UUID uppercase", "550E8400-E29B-41D4-A716-446655440000", false},
		{"empty", "", true},
		{"not a UUID", "not-a-uuid", true},
		{"path traversal attempt", "../../../etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConnectionID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConnectionID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateContainerID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid short ID", "abc123def456", false},
		{"valid long ID", "abc123def456abc123def456abc123def456abc123def456abc123def456abc1", false},
		{"valid uppercase", "ABC123DEF456", false},
		{"empty", "", true},
		{"too short", "abc123", true},
		{"too long", "abc123def456abc123def456abc123def456abc123def456abc123def456abc12345", true},
		{"invalid chars", "abc123def456xyz!", true},
		{"invalid chars space", "abc123 def456", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContainerID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContainerID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
