package tuning

import "testing"

func TestParseGeneration(t *testing.T) {
	tests := []struct {
		in      string
		want    BoschGeneration
		wantErr bool
	}{
		{"gen1", Gen1, false},
		{"3", Gen3, false},
		{"gen5smart", Gen5Smart, false},
		{"gen5", Gen5Smart, false},
		{"gen6", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseGeneration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseGeneration(%q): unexpected error state: %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseGeneration(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestParseOperatingMode(t *testing.T) {
	tests := []struct {
		in      string
		want    OperatingMode
		wantErr bool
	}{
		{"disabled", ModeDisabled, false},
		{"off", ModeDisabled, false},
		{"eco", ModeEco, false},
		{"stealth", ModeStealth, false},
		{"turbo", ModeDisabled, true},
	}

	for _, tt := range tests {
		got, err := ParseOperatingMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOperatingMode(%q): unexpected error state: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOperatingMode(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestGenerationTable_Complete(t *testing.T) {
	kinds := []messageKind{msgSpeed, msgMotor, msgBattery, msgDisplay, msgDiagnostic}

	for _, gen := range []BoschGeneration{Gen1, Gen2, Gen3, Gen4, Gen5Smart} {
		info, ok := lookupGeneration(gen)
		if !ok {
			t.Fatalf("%s missing from generation table", gen)
		}
		for _, kind := range kinds {
			minLen, ok := info.MsgLen[kind]
			if !ok {
				t.Errorf("%s: no length for %s", gen, kind)
				continue
			}
			// Every message must fit its checksum plus at least one
			// payload byte within a classic CAN frame.
			if minLen <= info.Checksum.size() || minLen > 8 {
				t.Errorf("%s %s: implausible length %d", gen, kind, minLen)
			}
		}
		if info.Divider.Min <= 0 || info.Divider.Max < info.Divider.Min {
			t.Errorf("%s: bad divider bounds %+v", gen, info.Divider)
		}
	}
}

func TestGetFaultConfig(t *testing.T) {
	cfg, ok := GetFaultConfig(FaultOverTemperature)
	if !ok {
		t.Fatal("over-temperature fault missing")
	}
	if cfg.Severity != SeverityCritical {
		t.Error("over-temperature should be critical")
	}

	if _, ok := GetFaultConfig(FaultNone); ok {
		t.Error("FaultNone should have no config")
	}
}
