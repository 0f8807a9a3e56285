package vec

import (
	"os"
	"strconv"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Level is the SIMD instruction set detected on the host.
type Level int

// Detected levels.
const (
	LevelScalar Level = iota
	LevelSSE2
	LevelAVX2
	LevelAVX512
	LevelNEON
)

// String returns a human-readable name for the level.
func (l Level) String() string {
	switch l {
	case LevelScalar:
		return "scalar"
	case LevelSSE2:
		return "sse2"
	case LevelAVX2:
		return "avx2"
	case LevelAVX512:
		return "avx512"
	case LevelNEON:
		return "neon"
	default:
		return "unknown"
	}
}

// RegisterBytes returns the vector register width of the level in bytes.
func (l Level) RegisterBytes() int {
	switch l {
	case LevelSSE2, LevelNEON:
		return 16
	case LevelAVX2:
		return 32
	case LevelAVX512:
		return 64
	default:
		return 4
	}
}

// NoSIMDEnv is the environment variable that forces scalar width.
const NoSIMDEnv = "BORN_KERNELS_NOSIMD"

var (
	detectOnce sync.Once
	detected   Level
)

// Detect returns the SIMD level of the host CPU.
func Detect() Level {
	detectOnce.Do(func() {
		detected = detect()
	})
	return detected
}

func detect() Level {
	if v, err := strconv.ParseBool(os.Getenv(NoSIMDEnv)); err == nil && v {
		return LevelScalar
	}
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F):
		return LevelAVX512
	case cpuid.CPU.Supports(cpuid.AVX2):
		return LevelAVX2
	case cpuid.CPU.Supports(cpuid.SSE2):
		return LevelSSE2
	case cpuid.CPU.Supports(cpuid.ASIMD):
		return LevelNEON
	default:
		return LevelScalar
	}
}

// HardwareWidth returns how many float32 lanes fit the host vector
// registers, capped at MaxWidth.
func HardwareWidth() int {
	return min(Detect().RegisterBytes()/4, MaxWidth)
}
