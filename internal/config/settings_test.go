package config

import (
	"errors"
	"path/filepath"
	"testing"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool    { return &v }

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.FPS != 30 {
		t.Errorf("Expected 30 fps, got %d", s.FPS)
	}
	if filepath.Base(s.OutputDir) != "Downloads" {
		t.Errorf("Expected Downloads folder, got '%s'", s.OutputDir)
	}
	if s.MicEnabled {
		t.Error("Expected microphone disabled")
	}
}

func TestMerge_FieldByField(t *testing.T) {
	base := Settings{FPS: 30, OutputDir: "~/Downloads", MicEnabled: false}

	tests := []struct {
		name    string
		partial PartialSettings
		want    Settings
	}{
		{"empty", PartialSettings{}, base},
		{"fps only", PartialSettings{FPS: intPtr(24)}, Settings{FPS: 24, OutputDir: "~/Downloads", MicEnabled: false}},
		{"dir only", PartialSettings{OutputDir: strPtr("/tmp/out")}, Settings{FPS: 30, OutputDir: "/tmp/out"}},
		{"mic only", PartialSettings{MicEnabled: boolPtr(true)}, Settings{FPS: 30, OutputDir: "~/Downloads", MicEnabled: true}},
		{"all", PartialSettings{FPS: intPtr(60), OutputDir: strPtr("/x"), MicEnabled: boolPtr(true)}, Settings{FPS: 60, OutputDir: "/x", MicEnabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := base.Merge(tt.partial)
			if got != tt.want {
				t.Errorf("Merge() = %+v, want %+v", got, tt.want)
			}
			// Applying the same update twice changes nothing further
			if again := got.Merge(tt.partial); again != got {
				t.Errorf("Merge is not idempotent: %+v then %+v", got, again)
			}
		})
	}

	if base.FPS != 30 {
		t.Error("Merge must not modify the receiver")
	}
}

func TestStore_Update(t *testing.T) {
	store := NewStore(Settings{FPS: 30, OutputDir: "~/Downloads"})

	got, err := store.Update(PartialSettings{FPS: intPtr(24)})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := Settings{FPS: 24, OutputDir: "~/Downloads", MicEnabled: false}
	if got != want {
		t.Errorf("Update() = %+v, want %+v", got, want)
	}
	if store.Get() != want {
		t.Errorf("Get() = %+v, want %+v", store.Get(), want)
	}
}

func TestStore_RejectedUpdateIsNotApplied(t *testing.T) {
	initial := Settings{FPS: 30, OutputDir: "/tmp/out"}
	store := NewStore(initial)

	tests := []struct {
		name    string
		partial PartialSettings
	}{
		{"fps zero", PartialSettings{FPS: intPtr(0), MicEnabled: boolPtr(true)}},
		{"fps too high", PartialSettings{FPS: intPtr(61)}},
		{"empty dir", PartialSettings{OutputDir: strPtr(""), FPS: intPtr(10)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Update(tt.partial)
			if !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("Expected ErrInvalidSettings, got: %v", err)
			}
			if store.Get() != initial {
				t.Errorf("Rejected update leaked into settings: %+v", store.Get())
			}
		})
	}
}

func TestPartialSettings_IsEmpty(t *testing.T) {
	if !(PartialSettings{}).IsEmpty() {
		t.Error("Expected zero value to be empty")
	}
	if (PartialSettings{MicEnabled: boolPtr(false)}).IsEmpty() {
		t.Error("Expected explicit false to count as a field")
	}
}
