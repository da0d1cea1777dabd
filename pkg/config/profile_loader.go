package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/observer/pkg/signal"
)

// Profile is an optional YAML overlay: server settings plus signal
// thresholds. Threshold fields left at zero fall back to the defaults.
type Profile struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Thresholds signal.Thresholds `yaml:"thresholds"`
}

// LoadProfile loads a profile YAML from path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	return &profile, nil
}

// EffectiveThresholds merges the profile's thresholds over the defaults.
// A nil profile yields the defaults unchanged.
func EffectiveThresholds(p *Profile) signal.Thresholds {
	th := signal.DefaultThresholds()
	if p == nil {
		return th
	}
	o := p.Thresholds
	if o.LatencyP95WarnMS > 0 {
		th.LatencyP95WarnMS = o.LatencyP95WarnMS
	}
	if o.LatencyP95CriticalMS > 0 {
		th.LatencyP95CriticalMS = o.LatencyP95CriticalMS
	}
	if o.LatencyMinSamples > 0 {
		th.LatencyMinSamples = o.LatencyMinSamples
	}
	if o.DenyRateWarn > 0 {
		th.DenyRateWarn = o.DenyRateWarn
	}
	if o.DenyRateCritical > 0 {
		th.DenyRateCritical = o.DenyRateCritical
	}
	if o.DenyMinDecisions > 0 {
		th.DenyMinDecisions = o.DenyMinDecisions
	}
	if o.ErrorClusterRecent > 0 {
		th.ErrorClusterRecent = o.ErrorClusterRecent
	}
	if o.ErrorClusterTotal > 0 {
		th.ErrorClusterTotal = o.ErrorClusterTotal
	}
	if o.PolicyWindowEvents > 0 {
		th.PolicyWindowEvents = o.PolicyWindowEvents
	}
	if o.PolicyWindowCount > 0 {
		th.PolicyWindowCount = o.PolicyWindowCount
	}
	return th
}
