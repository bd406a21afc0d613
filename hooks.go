package perflow

import "sync"

// defaultSampler is the process-wide Sampler driven by the host's
// process-entry/exit hooks (spec §4.9's singleton state S). The actual
// mechanism that installs these hooks into a target binary — a loader
// preload shim, a linker wrapper, a language-runtime callback — is
// explicitly out of scope (spec §1); this file only exposes the two
// functions such a mechanism is expected to call, plus the rank setter
// from rank.go.
var (
	defaultSamplerOnce sync.Once
	defaultSampler      *Sampler
)

func getDefaultSampler() *Sampler {
	defaultSamplerOnce.Do(func() {
		defaultSampler = NewSampler()
	})
	return defaultSampler
}

// OnLoad is the process-entry hook contract: the host calls this exactly
// once, as early as possible after the library is mapped into the
// process, with a project-chosen environment-variable prefix (may be
// ""). It loads Config from the environment, initializes the default
// Sampler, and starts sampling immediately.
func OnLoad(envPrefix string) error {
	s := getDefaultSampler()
	cfg := LoadConfig(envPrefix)
	if err := s.Init(cfg); err != nil {
		return err
	}
	return s.Start()
}

// OnUnload is the process-exit hook contract: the host calls this
// exactly once, as late as possible before the library is unmapped. It
// stops sampling and finalizes artifacts. Safe to call even if OnLoad
// was never called or already finalized, matching the idempotent
// finalize() transition of spec §4.4.
func OnUnload() error {
	s := getDefaultSampler()
	return s.Finalize()
}
