package system

import (
	"runtime"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// Settings holds process-wide runtime tuning. Zero values leave the runtime
// default untouched.
type Settings struct {
	MaxProcs     int `mapstructure:"maxprocs"`
	GCPercent    int `mapstructure:"gcpercent"`    // negative disables GC
	MaxThreads   int `mapstructure:"maxthreads"`
	MaxStackSize int `mapstructure:"maxstacksize"` // in bytes
	MemoryLimit  int `mapstructure:"memorylimit"`  // in MB

	CPUProfile string `mapstructure:"cpuprofile"`
	MemProfile string `mapstructure:"memprofile"`
	PprofAddr  string `mapstructure:"pprof_addr"`
}

// DefaultSettings returns recommended default settings
func DefaultSettings() Settings {
	return Settings{
		MaxProcs:     runtime.NumCPU(),
		GCPercent:    100,
		MaxThreads:   10000,
		MaxStackSize: 1024 * 1024 * 1024,
		MemoryLimit:  1024 * 2,
	}
}

// Applied lists the settings Apply changed, for logging and tests.
type Applied struct {
	MaxProcs     int
	GCPercent    int
	MaxThreads   int
	MaxStackSize int
	MemoryLimit  int64
}

// Apply configures the runtime and returns what it set.
func (s Settings) Apply() Applied {
	log := logrus.WithField("component", "system_settings")
	log.Debug("Applying system settings...")

	var out Applied
	if s.MaxProcs > 0 {
		runtime.GOMAXPROCS(s.MaxProcs)
		out.MaxProcs = s.MaxProcs
		log.Debugf("GOMAXPROCS set to %d", s.MaxProcs)
	}
	if s.GCPercent != 0 {
		debug.SetGCPercent(s.GCPercent)
		out.GCPercent = s.GCPercent
		log.Debugf("GC percent set to %d", s.GCPercent)
	}
	if s.MaxThreads > 0 {
		debug.SetMaxThreads(s.MaxThreads)
		out.MaxThreads = s.MaxThreads
		log.Debugf("Max threads set to %d", s.MaxThreads)
	}
	if s.MaxStackSize > 0 {
		debug.SetMaxStack(s.MaxStackSize)
		out.MaxStackSize = s.MaxStackSize
		log.Debugf("Max stack size set to %d bytes", s.MaxStackSize)
	}
	if s.MemoryLimit > 0 {
		out.MemoryLimit = int64(s.MemoryLimit) * 1024 * 1024
		debug.SetMemoryLimit(out.MemoryLimit)
		log.Debugf("Memory limit set to %dMB", s.MemoryLimit)
	}
	return out
}
