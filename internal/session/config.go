package session

// Conservative transfer parameters used until calibration replaces them.
const (
	DefaultChunkSize          = 16 * 1024
	DefaultBufferThreshold    = 64 * 1024
	DefaultBufferLowThreshold = 16 * 1024
	DefaultMaxMessageSize     = 256 * 1024
)

// TransferConfig holds the active flow-control parameters. Calibration
// replaces the whole value at once; nothing mutates individual fields.
type TransferConfig struct {
	ChunkSize          int
	BufferThreshold    int
	BufferLowThreshold int
	MaxMessageSize     int
	EffectiveBandwidth float64
	IsCalibrated       bool
}

func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		ChunkSize:          DefaultChunkSize,
		BufferThreshold:    DefaultBufferThreshold,
		BufferLowThreshold: DefaultBufferLowThreshold,
		MaxMessageSize:     DefaultMaxMessageSize,
	}
}
