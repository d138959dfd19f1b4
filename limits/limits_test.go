package limits

import (
	"errors"
	"testing"
)

func TestPayloadFitsDatagram(t *testing.T) {
	if DefaultMaxPayload+12 > MaxDatagram {
		t.Errorf("DefaultMaxPayload + header = %d, exceeds MaxDatagram %d", DefaultMaxPayload+12, MaxDatagram)
	}
	if MaxPayload+12 > MaxDatagram {
		t.Errorf("MaxPayload + header = %d, exceeds MaxDatagram %d", MaxPayload+12, MaxDatagram)
	}
}

func TestValidateFrameSizeWithin(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		max     int
		wantErr error
	}{
		{name: "zero", size: 0, max: 10},
		{name: "at limit", size: 10, max: 10},
		{name: "over limit", size: 11, max: 10, wantErr: ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFrameSizeWithin(tt.size, tt.max)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateFrameSizeWithin(%d, %d) = %v, want nil", tt.size, tt.max, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateFrameSizeWithin(%d, %d) = %v, want %v", tt.size, tt.max, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePayloadSize(t *testing.T) {
	if err := ValidatePayloadSize(DefaultMaxPayload); err != nil {
		t.Errorf("default payload rejected: %v", err)
	}
	if err := ValidatePayloadSize(0); !errors.Is(err, ErrEmpty) {
		t.Errorf("ValidatePayloadSize(0) = %v, want ErrEmpty", err)
	}
	if err := ValidatePayloadSize(MaxPayload + 1); !errors.Is(err, ErrTooLarge) {
		t.Errorf("ValidatePayloadSize(MaxPayload+1) = %v, want ErrTooLarge", err)
	}
}

func TestValidateFrameSize(t *testing.T) {
	if err := ValidateFrameSize(0); err != nil {
		t.Errorf("empty frame rejected: %v", err)
	}
	if err := ValidateFrameSize(MaxFrameSize); err != nil {
		t.Errorf("frame at limit rejected: %v", err)
	}
	if err := ValidateFrameSize(MaxFrameSize + 1); !errors.Is(err, ErrTooLarge) {
		t.Errorf("ValidateFrameSize(MaxFrameSize+1) = %v, want ErrTooLarge", err)
	}
}
