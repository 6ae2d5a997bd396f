package protocol

import (
	"testing"
	"time"
)

func TestDialogIDNames(t *testing.T) {
	tests := []struct {
		id   DialogID
		name string
	}{
		{DialogVehSitData, "vehSitData"},
		{DialogDataSubscription, "dataSubscription"},
		{DialogObjDisc, "objDisc"},
		{DialogIntersectionSitDataQuery, "intersectionSitDataQuery"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			if !tt.id.Valid() {
				t.Errorf("Valid() = false for %d", tt.id)
			}
			parsed, err := ParseDialogID(tt.name)
			if err != nil {
				t.Fatalf("ParseDialogID() error = %v", err)
			}
			if parsed != tt.id {
				t.Errorf("ParseDialogID() = %d, want %d", parsed, tt.id)
			}
		})
	}
}

func TestDialogIDUnknown(t *testing.T) {
	id := DialogID(153)
	if id.Valid() {
		t.Error("Valid() = true for unknown dialog")
	}
	if got := id.String(); got != "dialog(153)" {
		t.Errorf("String() = %q", got)
	}
	if _, err := ParseDialogID("nope"); err == nil {
		t.Error("ParseDialogID() expected error")
	}
}

func TestValidVsmMask(t *testing.T) {
	tests := []struct {
		mask uint8
		want bool
	}{
		{0, false},
		{uint8(VsmFund), true},
		{uint8(VsmFund | VsmWeather), true},
		{uint8(VsmAll), true},
		{uint8(VsmAll) + 1, false},
		{0xff, false},
	}

	for _, tt := range tests {
		if got := ValidVsmMask(tt.mask); got != tt.want {
			t.Errorf("ValidVsmMask(%d) = %v, want %v", tt.mask, got, tt.want)
		}
	}
}

func TestVsmNames(t *testing.T) {
	if got := VsmNames(uint8(VsmFund | VsmEnv)); got != "fund,env" {
		t.Errorf("VsmNames() = %q, want %q", got, "fund,env")
	}
	if got := VsmNames(0); got != "" {
		t.Errorf("VsmNames(0) = %q, want empty", got)
	}
}

func TestExpireInMinutes(t *testing.T) {
	before := time.Now().UTC()
	got := ExpireInMinutes(30)

	if got.Second() != 0 || got.Nanosecond() != 0 {
		t.Errorf("ExpireInMinutes() = %v, not truncated to the minute", got)
	}
	if got.Before(before.Add(29*time.Minute)) || got.After(before.Add(31*time.Minute)) {
		t.Errorf("ExpireInMinutes() = %v, want about 30 minutes after %v", got, before)
	}
}
