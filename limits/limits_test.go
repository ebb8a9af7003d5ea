package limits

import (
	"errors"
	"testing"
)

func TestValidateSize(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		max     int
		wantErr error
	}{
		{"empty", []byte{}, 100, ErrEmpty},
		{"nil", nil, 100, ErrEmpty},
		{"within limit", make([]byte, 50), 100, nil},
		{"at exact limit", make([]byte, 100), 100, nil},
		{"exceeds limit", make([]byte, 101), 100, ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSize(tt.data, tt.max)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateSize() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateSize() = %v, want wrap of %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePayload(t *testing.T) {
	if err := ValidatePayload(make([]byte, MaxPayload)); err != nil {
		t.Fatalf("max-size payload rejected: %v", err)
	}
	err := ValidatePayload(make([]byte, MaxPayload+1))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ValidatePayload() = %v, want ErrTooLarge", err)
	}
	if !contains(err.Error(), "1373") {
		t.Errorf("error %q should contain the offending size", err.Error())
	}
}

func TestValidatePacket(t *testing.T) {
	if err := ValidatePacket(make([]byte, MaxSignedPacket)); err != nil {
		t.Fatalf("max-size packet rejected: %v", err)
	}
	if err := ValidatePacket(make([]byte, MaxSignedPacket+1)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ValidatePacket() = %v, want ErrTooLarge", err)
	}
}

func TestValidateStorageRecord(t *testing.T) {
	if err := ValidateStorageRecord(make([]byte, MaxStorageRecord)); err != nil {
		t.Fatalf("max-size record rejected: %v", err)
	}
	if err := ValidateStorageRecord(make([]byte, MaxStorageRecord+1)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ValidateStorageRecord() = %v, want ErrTooLarge", err)
	}
}

func TestValidateProcessingBuffer(t *testing.T) {
	if err := ValidateProcessingBuffer(make([]byte, MaxProcessingBuffer)); err != nil {
		t.Fatalf("max-size buffer rejected: %v", err)
	}
	if err := ValidateProcessingBuffer(make([]byte, MaxProcessingBuffer+1)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ValidateProcessingBuffer() = %v, want ErrTooLarge", err)
	}
}

func TestConstantConsistency(t *testing.T) {
	if MaxSignedPacket <= MaxPayload {
		t.Errorf("MaxSignedPacket (%d) should be > MaxPayload (%d)", MaxSignedPacket, MaxPayload)
	}
	if MaxStorageRecord <= MaxSignedPacket {
		t.Errorf("MaxStorageRecord (%d) should be > MaxSignedPacket (%d)", MaxStorageRecord, MaxSignedPacket)
	}
	if MaxProcessingBuffer <= MaxStorageRecord {
		t.Errorf("MaxProcessingBuffer (%d) should be > MaxStorageRecord (%d)", MaxProcessingBuffer, MaxStorageRecord)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
