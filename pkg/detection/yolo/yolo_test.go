package yolo

import (
	"strings"
	"testing"
)

func TestClassName(t *testing.T) {
	tests := []struct {
		id   int
		want string
	}{
		{0, "person"},
		{15, "cat"},
		{16, "dog"},
		{79, "toothbrush"},
		{80, "class80"},
		{-1, "class-1"},
	}
	for _, tc := range tests {
		if got := ClassName(tc.id); got != tc.want {
			t.Errorf("ClassName(%d): got %q, want %q", tc.id, got, tc.want)
		}
	}
	if len(COCOClasses) != 80 {
		t.Errorf("COCOClasses: got %d entries, want 80", len(COCOClasses))
	}
}

func TestNew_MissingModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "/nonexistent/yolov8n.onnx"
	_, err := New(cfg)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("New: got %v, want not found error", err)
	}
}
