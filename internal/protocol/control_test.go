package protocol

import (
	"bytes"
	"testing"
)

func TestDecodeControlFileMeta(t *testing.T) {
	data, err := EncodeFileMeta("id-1", "report.pdf", 4096, "application/pdf", false)
	if err != nil {
		t.Fatalf("EncodeFileMeta failed: %v", err)
	}

	ctrl, err := DecodeControl(data)
	if err != nil {
		t.Fatalf("DecodeControl failed: %v", err)
	}

	if ctrl.Meta == nil {
		t.Fatal("Expected Meta arm to be set")
	}
	if ctrl.Complete != nil || ctrl.Ping != nil || ctrl.Pong != nil || ctrl.Other != nil {
		t.Error("Expected exactly one arm to be set")
	}
	if ctrl.Meta.ID != "id-1" || ctrl.Meta.Name != "report.pdf" || ctrl.Meta.Size != 4096 {
		t.Errorf("Unexpected meta fields: %+v", ctrl.Meta)
	}
	if ctrl.Meta.FileType != "application/pdf" || ctrl.Meta.Encrypted {
		t.Errorf("Unexpected meta fields: %+v", ctrl.Meta)
	}
}

func TestDecodeControlFileComplete(t *testing.T) {
	data, err := EncodeFileComplete("id-2")
	if err != nil {
		t.Fatalf("EncodeFileComplete failed: %v", err)
	}

	ctrl, err := DecodeControl(data)
	if err != nil {
		t.Fatalf("DecodeControl failed: %v", err)
	}
	if ctrl.Complete == nil {
		t.Fatal("Expected Complete arm to be set")
	}
	if ctrl.Complete.ID != "id-2" {
		t.Errorf("Expected id 'id-2', got %q", ctrl.Complete.ID)
	}
}

func TestDecodeControlCalibration(t *testing.T) {
	ping, err := EncodeCalibrationPing("cal:p1", 16384)
	if err != nil {
		t.Fatalf("EncodeCalibrationPing failed: %v", err)
	}
	ctrl, err := DecodeControl(ping)
	if err != nil {
		t.Fatalf("DecodeControl failed: %v", err)
	}
	if ctrl.Ping == nil {
		t.Fatal("Expected Ping arm to be set")
	}
	if ctrl.Ping.ID != "cal:p1" || ctrl.Ping.Size != 16384 {
		t.Errorf("Unexpected ping fields: %+v", ctrl.Ping)
	}

	pong, err := EncodeCalibrationPong("cal:p1", 16384)
	if err != nil {
		t.Fatalf("EncodeCalibrationPong failed: %v", err)
	}
	ctrl, err = DecodeControl(pong)
	if err != nil {
		t.Fatalf("DecodeControl failed: %v", err)
	}
	if ctrl.Pong == nil {
		t.Fatal("Expected Pong arm to be set")
	}
	if ctrl.Pong.ID != "cal:p1" || ctrl.Pong.Size != 16384 {
		t.Errorf("Unexpected pong fields: %+v", ctrl.Pong)
	}
}

func TestDecodeControlPassThrough(t *testing.T) {
	raw := []byte(`{"type":"chat","text":"hello"}`)

	ctrl, err := DecodeControl(raw)
	if err != nil {
		t.Fatalf("DecodeControl failed: %v", err)
	}
	if ctrl.Other == nil {
		t.Fatal("Expected Other arm to be set for unknown type")
	}
	if !bytes.Equal(ctrl.Other, raw) {
		t.Errorf("Expected verbatim pass-through, got %s", ctrl.Other)
	}
}

func TestDecodeControlInvalidJSON(t *testing.T) {
	if _, err := DecodeControl([]byte("not json")); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
