package protocol

import (
	"encoding/json"
	"fmt"
)

// FileMeta announces an incoming transfer. Name and FileType carry
// base64(iv || ciphertext) strings when Encrypted is set.
type FileMeta struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	FileType  string `json:"fileType"`
	Encrypted bool   `json:"encrypted"`
}

// FileComplete signals that no further chunks follow for a transfer.
type FileComplete struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// CalibrationPing opens a bandwidth probe; a same-sized binary payload
// tagged with the probe id follows on the wire.
type CalibrationPing struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Size int64  `json:"size"`
}

// CalibrationPong is the receiver's immediate echo of a ping.
type CalibrationPong struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Size int64  `json:"size"`
}

// Control is the closed union of inbound text frames, decoded once at the
// channel boundary. Exactly one arm is non-nil; a message with an
// unrecognized type lands in Other verbatim, preserving the protocol's
// extensibility escape hatch.
type Control struct {
	Meta     *FileMeta
	Complete *FileComplete
	Ping     *CalibrationPing
	Pong     *CalibrationPong
	Other    json.RawMessage
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeControl parses one text frame into the control union.
func DecodeControl(data []byte) (Control, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Control{}, fmt.Errorf("protocol: decode control message: %w", err)
	}

	switch env.Type {
	case TypeFileMeta:
		var m FileMeta
		if err := json.Unmarshal(data, &m); err != nil {
			return Control{}, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
		}
		return Control{Meta: &m}, nil
	case TypeFileComplete:
		var m FileComplete
		if err := json.Unmarshal(data, &m); err != nil {
			return Control{}, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
		}
		return Control{Complete: &m}, nil
	case TypeCalibrationPing:
		var m CalibrationPing
		if err := json.Unmarshal(data, &m); err != nil {
			return Control{}, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
		}
		return Control{Ping: &m}, nil
	case TypeCalibrationPong:
		var m CalibrationPong
		if err := json.Unmarshal(data, &m); err != nil {
			return Control{}, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
		}
		return Control{Pong: &m}, nil
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Control{Other: raw}, nil
	}
}

// EncodeFileMeta builds the file-meta wire form.
func EncodeFileMeta(id, name string, size int64, fileType string, encrypted bool) ([]byte, error) {
	return json.Marshal(FileMeta{
		Type:      TypeFileMeta,
		ID:        id,
		Name:      name,
		Size:      size,
		FileType:  fileType,
		Encrypted: encrypted,
	})
}

// EncodeFileComplete builds the file-complete wire form.
func EncodeFileComplete(id string) ([]byte, error) {
	return json.Marshal(FileComplete{Type: TypeFileComplete, ID: id})
}

// EncodeCalibrationPing builds the calibration-ping wire form.
func EncodeCalibrationPing(id string, size int64) ([]byte, error) {
	return json.Marshal(CalibrationPing{Type: TypeCalibrationPing, ID: id, Size: size})
}

// EncodeCalibrationPong builds the calibration-pong wire form.
func EncodeCalibrationPong(id string, size int64) ([]byte, error) {
	return json.Marshal(CalibrationPong{Type: TypeCalibrationPong, ID: id, Size: size})
}
