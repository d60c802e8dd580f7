package telemetry

import (
	"fmt"
	"os"
	"sync"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
)

// ProfilerConfig holds pyroscope continuous profiling configuration.
type ProfilerConfig struct {
	Enabled         bool
	ServerAddress   string
	ApplicationName string

	ProfileCPU          bool
	ProfileAllocObjects bool
	ProfileAllocSpace   bool
	ProfileInuseObjects bool
	ProfileInuseSpace   bool
	ProfileGoroutines   bool
}

// Profiler owns the pyroscope session. Disabled it is a no-op with the
// same lifecycle, so main can always defer Stop.
type Profiler struct {
	session *pyroscope.Profiler
	log     *zap.Logger
	config  ProfilerConfig

	mu      sync.Mutex
	stopped bool
}

// NewProfiler starts continuous profiling against the configured server.
func NewProfiler(cfg ProfilerConfig, log *zap.Logger) (*Profiler, error) {
	p := &Profiler{log: log, config: cfg}
	if !cfg.Enabled {
		log.Info("continuous profiling disabled")
		return p, nil
	}
	if cfg.ServerAddress == "" || cfg.ApplicationName == "" {
		return nil, fmt.Errorf("telemetry: profiler needs server address and application name")
	}

	types := cfg.profileTypes()
	if len(types) == 0 {
		log.Warn("profiler enabled with no profile types selected")
	}

	tags := map[string]string{}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		tags["hostname"] = hostname
	}

	session, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Logger:          pyroscopeZap{log.Named("pyroscope")},
		Tags:            tags,
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: profiler start: %w", err)
	}
	p.session = session

	log.Info("continuous profiling started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Int("profile_types", len(types)),
	)
	return p, nil
}

func (cfg ProfilerConfig) profileTypes() []pyroscope.ProfileType {
	selected := []struct {
		on bool
		t  pyroscope.ProfileType
	}{
		{cfg.ProfileCPU, pyroscope.ProfileCPU},
		{cfg.ProfileAllocObjects, pyroscope.ProfileAllocObjects},
		{cfg.ProfileAllocSpace, pyroscope.ProfileAllocSpace},
		{cfg.ProfileInuseObjects, pyroscope.ProfileInuseObjects},
		{cfg.ProfileInuseSpace, pyroscope.ProfileInuseSpace},
		{cfg.ProfileGoroutines, pyroscope.ProfileGoroutines},
	}
	var types []pyroscope.ProfileType
	for _, s := range selected {
		if s.on {
			types = append(types, s.t)
		}
	}
	return types
}

// Stop flushes and ends the session. Safe to call more than once. The
// pyroscope SDK's Stop takes no context; it bounds itself internally.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.session == nil {
		p.stopped = true
		return nil
	}
	p.stopped = true

	if err := p.session.Stop(); err != nil {
		return fmt.Errorf("telemetry: profiler stop: %w", err)
	}
	p.log.Info("continuous profiling stopped")
	return nil
}

// IsEnabled reports whether a profiling session is running.
func (p *Profiler) IsEnabled() bool {
	return p.config.Enabled && p.session != nil
}

// GetConfig returns a copy of the profiler configuration.
func (p *Profiler) GetConfig() ProfilerConfig {
	return p.config
}

// pyroscopeZap adapts zap to the pyroscope logger interface.
type pyroscopeZap struct {
	log *zap.Logger
}

func (l pyroscopeZap) Infof(format string, args ...any)  { l.log.Sugar().Infof(format, args...) }
func (l pyroscopeZap) Debugf(format string, args ...any) { l.log.Sugar().Debugf(format, args...) }
func (l pyroscopeZap) Errorf(format string, args ...any) { l.log.Sugar().Errorf(format, args...) }
