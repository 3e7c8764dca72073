// Package device resolves the requested compute device. Training always
// runs on the CPU; accelerator requests are accepted and reported as a
// fallback so configs written for GPU hosts keep working.
package device

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Kind is a compute device family.
type Kind string

const (
	CPU  Kind = "cpu"
	CUDA Kind = "cuda"
	GPU  Kind = "gpu"
	Auto Kind = "auto"
)

// Info describes the device training will run on.
type Info struct {
	Requested     Kind
	Kind          Kind // always CPU
	Brand         string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	X64Level      int      // 0 when not amd64 or unknown
	Features      []string // SIMD features relevant to dense math
	Fallback      string   // why an accelerator request ended on the CPU
}

var simdFeatures = []struct {
	id   cpuid.FeatureID
	name string
}{
	{cpuid.SSE4, "sse4.1"},
	{cpuid.AVX, "avx"},
	{cpuid.AVX2, "avx2"},
	{cpuid.FMA3, "fma"},
	{cpuid.AVX512F, "avx512f"},
	{cpuid.ASIMD, "neon"},
}

// Select parses a device name and describes the CPU that will be used.
func Select(name string) (Info, error) {
	return selectFrom(name, cpuid.CPU)
}

func selectFrom(name string, cpu cpuid.CPUInfo) (Info, error) {
	requested := Kind(strings.ToLower(strings.TrimSpace(name)))
	if requested == "" {
		requested = CPU
	}

	info := Info{
		Requested:     requested,
		Kind:          CPU,
		Brand:         cpu.BrandName,
		Vendor:        cpu.VendorString,
		PhysicalCores: cpu.PhysicalCores,
		LogicalCores:  cpu.LogicalCores,
		X64Level:      cpu.X64Level(),
	}
	if info.Brand == "" {
		info.Brand = runtime.GOARCH
	}
	if info.LogicalCores <= 0 {
		info.LogicalCores = runtime.NumCPU()
	}
	for _, f := range simdFeatures {
		if cpu.Supports(f.id) {
			info.Features = append(info.Features, f.name)
		}
	}

	switch requested {
	case CPU:
	case CUDA, GPU:
		info.Fallback = fmt.Sprintf("%s requested but no accelerator backend is built in", requested)
	case Auto:
		info.Fallback = "no accelerator backend is built in"
	default:
		return Info{}, fmt.Errorf("unknown device %q (want cpu, cuda, gpu or auto)", name)
	}
	return info, nil
}

// Workers suggests a goroutine count for batch assembly.
func (i Info) Workers() int {
	if i.LogicalCores > 1 {
		return i.LogicalCores
	}
	return 1
}

func (i Info) String() string {
	s := fmt.Sprintf("cpu: %s (%d logical cores", i.Brand, i.LogicalCores)
	if i.PhysicalCores > 0 {
		s += fmt.Sprintf(", %d physical", i.PhysicalCores)
	}
	s += ")"
	if len(i.Features) > 0 {
		s += " [" + strings.Join(i.Features, " ") + "]"
	}
	if i.Fallback != "" {
		s += "; " + i.Fallback + ", using cpu"
	}
	return s
}
