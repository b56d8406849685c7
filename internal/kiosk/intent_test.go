package kiosk

import "testing"

func TestEnrollmentName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		transcript string
		wantName   string
		wantOK     bool
	}{
		{"My name is Alex.", "Alex", true},
		{"my name is alex", "Alex", true},
		{"Call me Ada!", "Ada", true},
		{"my name is Mary Jane", "Mary Jane", true},
		{"I'm called Bartholomew", "Bartholomew", true},
		{"call me when dinner is ready", "", false},
		{"my name is", "", false},
		{"what is your name?", "", false},
		{"the name is Bond", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			t.Parallel()
			name, ok := EnrollmentName(tt.transcript)
			if ok != tt.wantOK || name != tt.wantName {
				t.Errorf("EnrollmentName(%q) = %q, %v; want %q, %v",
					tt.transcript, name, ok, tt.wantName, tt.wantOK)
			}
		})
	}
}
