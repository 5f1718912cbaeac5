package provider

import "testing"

func TestMeaningful(t *testing.T) {
	tests := []struct {
		state    InstanceState
		expected bool
	}{
		{StateRunning, true},
		{StatePending, true},
		{StateStopped, true},
		{StateTerminated, false},
		{StateOther, false},
	}

	for _, tt := range tests {
		if got := tt.state.Meaningful(); got != tt.expected {
			t.Errorf("Meaningful(%s) = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestMapDropletStatus(t *testing.T) {
	tests := []struct {
		status   string
		expected InstanceState
	}{
		{"active", StateRunning},
		{"new", StatePending},
		{"off", StateStopped},
		{"archive", StateTerminated},
		{"something-else", StateOther},
	}

	for _, tt := range tests {
		if got := mapDropletStatus(tt.status); got != tt.expected {
			t.Errorf("mapDropletStatus(%q) = %s, want %s", tt.status, got, tt.expected)
		}
	}
}

func TestMapGCEStatus(t *testing.T) {
	// GCE has no distinct terminated status; stopped machines report
	// TERMINATED and deleted ones vanish from the listing
	if got := mapGCEStatus("TERMINATED"); got != StateStopped {
		t.Errorf("mapGCEStatus(TERMINATED) = %s, want %s", got, StateStopped)
	}
	if got := mapGCEStatus("RUNNING"); got != StateRunning {
		t.Errorf("mapGCEStatus(RUNNING) = %s, want %s", got, StateRunning)
	}
	if got := mapGCEStatus("PROVISIONING"); got != StatePending {
		t.Errorf("mapGCEStatus(PROVISIONING) = %s, want %s", got, StatePending)
	}
}

func TestDropletSize(t *testing.T) {
	if got := dropletSize(1, 2); got != "s-1vcpu-2gb" {
		t.Errorf("Expected the small slug, got '%s'", got)
	}
	if got := dropletSize(8, 32); got != "s-4vcpu-8gb" {
		t.Errorf("Expected the largest slug as fallback, got '%s'", got)
	}
}

func TestGCEMachineType(t *testing.T) {
	if got := gceMachineType(1, 4); got != "e2-medium" {
		t.Errorf("Expected 'e2-medium', got '%s'", got)
	}
	if got := gceMachineType(2, 8); got != "e2-standard-2" {
		t.Errorf("Expected 'e2-standard-2', got '%s'", got)
	}
}
