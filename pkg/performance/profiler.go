package performance

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/brick2/pkg/errors"
)

// ProfileTypes lists the profiles a Profiler can write
var ProfileTypes = []string{"cpu", "heap", "block", "mutex", "goroutine"}

// Profiler writes pprof profiles into a directory. The CPU profile covers
// Start to Stop; the others are captured at Stop.
type Profiler struct {
	dir    string
	types  map[string]bool
	logger *zap.Logger

	cpuFile *os.File
	written []string
}

// ParseProfileTypes parses a comma separated list; "all" selects every type
func ParseProfileTypes(s string) ([]string, error) {
	if strings.TrimSpace(s) == "all" {
		return append([]string(nil), ProfileTypes...), nil
	}

	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "mem", "memory":
			part = "heap"
		}
		known := false
		for _, t := range ProfileTypes {
			if t == part {
				known = true
				break
			}
		}
		if !known {
			return nil, errors.Newf(errors.ErrorTypeValidation, "unknown profile type %q", part)
		}
		out = append(out, part)
	}
	return out, nil
}

// NewProfiler creates a profiler writing the given types into dir
func NewProfiler(dir string, types []string, logger *zap.Logger) *Profiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return &Profiler{dir: dir, types: set, logger: logger.With(zap.String("component", "profiler"))}
}

// Start creates the output directory and starts CPU profiling if selected
func (p *Profiler) Start() error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create profile directory")
	}
	if p.types["block"] {
		runtime.SetBlockProfileRate(1)
	}
	if p.types["mutex"] {
		runtime.SetMutexProfileFraction(1)
	}
	if !p.types["cpu"] {
		return nil
	}

	path := filepath.Join(p.dir, "cpu.prof")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create CPU profile")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to start CPU profile")
	}
	p.cpuFile = f
	p.logger.Info("CPU profiling started", zap.String("path", path))
	return nil
}

// Stop ends CPU profiling, writes the remaining profiles and returns the
// paths written
func (p *Profiler) Stop() ([]string, error) {
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			return p.written, errors.Wrap(err, errors.ErrorTypeInternal, "failed to close CPU profile")
		}
		p.written = append(p.written, p.cpuFile.Name())
		p.cpuFile = nil
	}

	for _, name := range []string{"heap", "block", "mutex", "goroutine"} {
		if !p.types[name] {
			continue
		}
		if name == "heap" {
			runtime.GC()
		}
		path := filepath.Join(p.dir, name+".prof")
		if err := writeProfile(name, path); err != nil {
			return p.written, err
		}
		p.written = append(p.written, path)
	}

	if p.types["block"] {
		runtime.SetBlockProfileRate(0)
	}
	if p.types["mutex"] {
		runtime.SetMutexProfileFraction(0)
	}
	p.logger.Info("profiles written", zap.Strings("paths", p.written))
	return p.written, nil
}

func writeProfile(name, path string) error {
	profile := pprof.Lookup(name)
	if profile == nil {
		return errors.Newf(errors.ErrorTypeInternal, "profile %s not found", name)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create profile file").WithDetail("profile", name)
	}
	defer f.Close()

	if err := profile.WriteTo(f, 0); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write profile").WithDetail("profile", name)
	}
	return nil
}
