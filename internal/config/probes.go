package config

import (
	"time"

	"crucible/internal/orchestrator"
	"crucible/internal/probe"
)

// BuildProbes materializes the configured probes, keyed by dimension.
// Validate has already rejected unknown types and missing fields.
func (c *Config) BuildProbes(workdir string) map[orchestrator.Dimension]probe.Probe {
	probes := map[orchestrator.Dimension]probe.Probe{}
	for _, pc := range c.Probes {
		dim := orchestrator.Dimension(pc.Dimension)
		timeout := time.Duration(pc.TimeoutSec) * time.Second
		switch pc.Type {
		case "script":
			probes[dim] = &probe.ScriptProbe{
				Dimension: pc.Dimension,
				Command:   pc.Command,
				Workdir:   workdir,
				Timeout:   timeout,
			}
		case "http":
			probes[dim] = &probe.HTTPProbe{
				Dimension: pc.Dimension,
				URL:       pc.URL,
				Timeout:   timeout,
			}
		case "browser":
			probes[dim] = &probe.BrowserProbe{
				Dimension: pc.Dimension,
				URL:       pc.URL,
				Selectors: pc.Selectors,
				Timeout:   timeout,
			}
		}
	}
	return probes
}
