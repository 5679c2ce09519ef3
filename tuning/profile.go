package tuning

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// GenerationOverride adjusts selected fields of a built-in generation table
// entry. Zero values mean "keep the built-in".
type GenerationOverride struct {
	Checksum     string // "sum8", "xor8", "crc8", "crc16"
	SpeedScale   float64
	SpeedOverCAN *bool
	DividerMin   float64
	DividerMax   float64
	DividerSlew  float64
}

// Profile is a set of per-generation overrides, shipped as an .ini file
// with one section per generation, e.g.:
//
//	[gen3]
//	checksum   = crc8
//	divider_max = 2.2
type Profile map[BoschGeneration]GenerationOverride

// LoadProfile parses a generation profile file.
func LoadProfile(path string) (Profile, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", path, err)
	}

	profile := Profile{}
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		gen, err := ParseGeneration(sec.Name())
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", path, err)
		}

		var ov GenerationOverride
		if sec.HasKey("checksum") {
			ov.Checksum = sec.Key("checksum").String()
			if _, err := parseChecksumKind(ov.Checksum); err != nil {
				return nil, fmt.Errorf("profile %s [%s]: %w", path, sec.Name(), err)
			}
		}
		if sec.HasKey("speed_scale") {
			if ov.SpeedScale, err = sec.Key("speed_scale").Float64(); err != nil {
				return nil, fmt.Errorf("profile %s [%s] speed_scale: %w", path, sec.Name(), err)
			}
		}
		if sec.HasKey("speed_over_can") {
			v, err := sec.Key("speed_over_can").Bool()
			if err != nil {
				return nil, fmt.Errorf("profile %s [%s] speed_over_can: %w", path, sec.Name(), err)
			}
			ov.SpeedOverCAN = &v
		}
		if sec.HasKey("divider_min") {
			if ov.DividerMin, err = sec.Key("divider_min").Float64(); err != nil {
				return nil, fmt.Errorf("profile %s [%s] divider_min: %w", path, sec.Name(), err)
			}
		}
		if sec.HasKey("divider_max") {
			if ov.DividerMax, err = sec.Key("divider_max").Float64(); err != nil {
				return nil, fmt.Errorf("profile %s [%s] divider_max: %w", path, sec.Name(), err)
			}
		}
		if sec.HasKey("divider_slew") {
			if ov.DividerSlew, err = sec.Key("divider_slew").Float64(); err != nil {
				return nil, fmt.Errorf("profile %s [%s] divider_slew: %w", path, sec.Name(), err)
			}
		}
		profile[gen] = ov
	}
	log.Infof("[CAN] loaded generation profile %s (%d overrides)", path, len(profile))
	return profile, nil
}

func parseChecksumKind(s string) (checksumKind, error) {
	switch s {
	case "sum8":
		return checksumSum8, nil
	case "xor8":
		return checksumXor8, nil
	case "crc8":
		return checksumCRC8, nil
	case "crc16":
		return checksumCRC16, nil
	default:
		return 0, fmt.Errorf("unknown checksum kind %q", s)
	}
}

// apply returns a copy of info with the override fields replaced.
func (p Profile) apply(info generationInfo) generationInfo {
	ov, ok := p[info.Generation]
	if !ok {
		return info
	}
	if ov.Checksum != "" {
		if k, err := parseChecksumKind(ov.Checksum); err == nil {
			info.Checksum = k
		}
	}
	if ov.SpeedScale > 0 {
		info.Speed.scale = ov.SpeedScale
	}
	if ov.SpeedOverCAN != nil {
		info.SpeedOverCAN = *ov.SpeedOverCAN
	}
	if ov.DividerMin > 0 {
		info.Divider.Min = ov.DividerMin
	}
	if ov.DividerMax > 0 {
		info.Divider.Max = ov.DividerMax
	}
	if ov.DividerSlew > 0 {
		info.Divider.Slew = ov.DividerSlew
	}
	return info
}
