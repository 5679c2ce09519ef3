package tuning

// speedTransform maps a measured input speed to the speed-equivalent the
// emitted signal should represent. One implementation per operating mode,
// so each rule is unit-testable in isolation.
type speedTransform interface {
	Apply(inputKmh float64, lim ModeLimits) float64
}

var transforms = map[OperatingMode]speedTransform{
	ModeDisabled:  identityTransform{},
	ModeEco:       ceilingTransform{ceiling: func(lim ModeLimits) float64 { return lim.EcoCeiling }},
	ModeSport:     ceilingTransform{ceiling: func(lim ModeLimits) float64 { return lim.SportCeiling }},
	ModeUnlimited: identityTransform{},
	ModeStealth:   stealthTransform{},
}

func transformFor(mode OperatingMode) speedTransform {
	if t, ok := transforms[mode]; ok {
		return t
	}
	return identityTransform{}
}

// identityTransform passes the input speed through. Disabled mode (the
// fail-safe default) and Unlimited mode both use it; Unlimited additionally
// skips the absolute cap applied by the emulator.
type identityTransform struct{}

func (identityTransform) Apply(inputKmh float64, _ ModeLimits) float64 {
	return inputKmh
}

// ceilingTransform clamps to a mode-specific ceiling; below the ceiling the
// signal passes through unmodified.
type ceilingTransform struct {
	ceiling func(ModeLimits) float64
}

func (t ceilingTransform) Apply(inputKmh float64, lim ModeLimits) float64 {
	c := t.ceiling(lim)
	if c > 0 && inputKmh > c {
		return c
	}
	return inputKmh
}

// stealthTransform suppresses the controller's speed-limit trigger while
// keeping the reported value plausible: at or below the threshold it is a
// passthrough, above it the reported speed sits just under the threshold
// with a small bounded term tracking the true speed.
type stealthTransform struct{}

func (stealthTransform) Apply(inputKmh float64, lim ModeLimits) float64 {
	if lim.StealthThreshold <= 0 || inputKmh <= lim.StealthThreshold {
		return inputKmh
	}
	margin := lim.StealthMargin
	if margin <= 0 {
		margin = 1.0
	}
	// Track the true speed at 5% of the overshoot, capped so the
	// reported value always stays under the threshold.
	track := (inputKmh - lim.StealthThreshold) * 0.05
	if track > margin*0.5 {
		track = margin * 0.5
	}
	return lim.StealthThreshold - margin + track
}
