package domain

import (
	"encoding/json"
	"testing"
)

func TestReasonMarshalJSON(t *testing.T) {
	tests := []struct {
		reason   Reason
		expected string
	}{
		{Focused, `"focused"`},
		{Audible, `"audible"`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.reason)
		if err != nil {
			t.Errorf("Marshal(%v) error: %v", tt.reason, err)
			continue
		}
		if string(data) != tt.expected {
			t.Errorf("Marshal(%v) = %s, want %s", tt.reason, data, tt.expected)
		}
	}
}

func TestReasonUnmarshalJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected Reason
	}{
		{`"focused"`, Focused},
		{`"audible"`, Audible},
	}

	for _, tt := range tests {
		var r Reason
		if err := json.Unmarshal([]byte(tt.input), &r); err != nil {
			t.Errorf("Unmarshal(%s) error: %v", tt.input, err)
			continue
		}
		if r != tt.expected {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, r, tt.expected)
		}
	}
}
