package masterdata

import (
	"errors"
	"testing"
)

func TestPushDeviceValidate(t *testing.T) {
	device := PushDevice{TenantID: "t", ResidentID: "r", Token: "ExponentPushToken[abc]", Platform: PlatformExpo}
	if err := device.Validate(); err != nil {
		t.Fatalf("expected valid expo device, got %v", err)
	}
	device.Token = "fcm-token"
	if err := device.Validate(); !errors.Is(err, ErrInvalidPushToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	device.Platform = PlatformFCM
	if err := device.Validate(); err != nil {
		t.Fatalf("expected fcm token accepted, got %v", err)
	}
}

func TestApartmentLabel(t *testing.T) {
	if got := (Apartment{Block: "A", Number: "12"}).Label(); got != "A-12" {
		t.Fatalf("expected A-12, got %s", got)
	}
	if got := (Apartment{Number: "7"}).Label(); got != "7" {
		t.Fatalf("expected 7, got %s", got)
	}
}
