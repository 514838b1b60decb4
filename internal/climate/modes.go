package climate

import "strings"

const (
	ModeOff      = "off"
	ModeHeat     = "heat"
	ModeCool     = "cool"
	ModeAuto     = "auto"
	ModeHeatCool = "heat_cool"
)

// ModeToHub translates a caller-facing HVAC mode into Home Assistant's
// vocabulary. Only "auto" is renamed; every other mode passes through.
func ModeToHub(mode string) string {
	mode = strings.TrimSpace(mode)
	if strings.EqualFold(mode, ModeAuto) {
		return ModeHeatCool
	}
	return mode
}

// ModeFromHub is the inverse of ModeToHub. An empty mode reads as "off".
func ModeFromHub(mode string) string {
	mode = strings.TrimSpace(mode)
	switch {
	case mode == "":
		return DefaultHvacMode
	case strings.EqualFold(mode, ModeHeatCool):
		return ModeAuto
	}
	return mode
}

// Outward returns a copy of s with the HVAC mode and the supported mode list
// expressed in caller-facing vocabulary.
func Outward(s *State) *State {
	if s == nil {
		return nil
	}
	out := s.Clone()
	out.HvacMode = ModeFromHub(s.HvacMode)
	for i, m := range out.SupportedHvacModes {
		out.SupportedHvacModes[i] = ModeFromHub(m)
	}
	return out
}
