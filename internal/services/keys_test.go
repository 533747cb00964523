package services_test

import (
	"errors"
	"testing"

	"transcoder/internal/services"
)

func TestValidateAssetID(t *testing.T) {
	for _, id := range []string{"Clip.webm", "Sub dir/Clip (1).ogv", "..hidden.ogg", "a..b.mp3"} {
		if err := services.ValidateAssetID(id); err != nil {
			t.Errorf("ValidateAssetID(%q) = %v", id, err)
		}
	}
	for _, id := range []string{"", "  ", "..", "x/../../../../../escaped", "/etc/passwd", "a//b", "./a", "a/.", "a\\..\\b", "clip\x00.webm"} {
		if err := services.ValidateAssetID(id); !errors.Is(err, services.ErrValidation) {
			t.Errorf("ValidateAssetID(%q) = %v, want validation error", id, err)
		}
	}
}

func TestValidateJobKey(t *testing.T) {
	if err := services.ValidateJobKey("Clip.webm", "360p.vp9.webm"); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	for _, key := range []string{"", "..", "../360p.webm", "360p/webm", "a\x00"} {
		if err := services.ValidateJobKey("Clip.webm", key); !errors.Is(err, services.ErrValidation) {
			t.Errorf("variant %q accepted: %v", key, err)
		}
	}
	if err := services.ValidateJobKey("../Clip.webm", "360p.webm"); !errors.Is(err, services.ErrValidation) {
		t.Errorf("asset traversal accepted: %v", err)
	}
}
