package protocol

// Control message type tags, carried in the "type" field of every text frame.
const (
	TypeFileMeta        = "file-meta"
	TypeFileComplete    = "file-complete"
	TypeCalibrationPing = "calibration-ping"
	TypeCalibrationPong = "calibration-pong"
)

const (
	// MaxIDLength is the largest transfer id a binary frame can carry:
	// the id length travels in a single byte.
	MaxIDLength = 255

	// IVSize is the GCM nonce length embedded in encrypted frames.
	IVSize = 12

	// ProbeIDPrefix marks binary frames that belong to the calibration
	// protocol. The reassembly layer recognizes the prefix and discards
	// the payload instead of treating it as file data.
	ProbeIDPrefix = "cal:"
)
