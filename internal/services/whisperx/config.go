package whisperx

// Config captures runtime settings for WhisperX runs.
type Config struct {
	// Command launches WhisperX; defaults to uvx.
	Command string
	// Model is the WhisperX model (e.g. "large-v3").
	Model string
	// CUDAEnabled enables GPU acceleration.
	CUDAEnabled bool
	// VADMethod selects voice activity detection ("silero" or "pyannote").
	VADMethod string
	// HFToken is the Hugging Face token pyannote needs.
	HFToken string
}

const (
	DefaultModel      = "large-v3"
	CUDAIndexURL      = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL      = "https://pypi.org/simple"
	BatchSize         = "4"
	ChunkSize         = "15"
	BeamSize          = "5"
	Temperature       = "0.0"
	SegmentResolution = "sentence"
	OutputFormat      = "all"
	CPUDevice         = "cpu"
	CUDADevice        = "cuda"
	CPUComputeType    = "float32"
	VADMethodPyannote = "pyannote"
	VADMethodSilero   = "silero"
	UVXCommand        = "uvx"
)
