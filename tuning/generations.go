package tuning

// Bosch drive CAN message IDs. The arbitration ids are stable across
// generations; the payload layout and checksum rule are not.
const (
	SpeedMsgID      = 0x181
	MotorMsgID      = 0x182
	BatteryMsgID    = 0x183
	DisplayMsgID    = 0x184
	DiagnosticMsgID = 0x185
	HeartbeatMsgID  = 0x1F0
	ShutdownMsgID   = 0x1FF
)

// messageKind is the semantic class a frame decodes into.
type messageKind int

const (
	msgSpeed messageKind = iota
	msgMotor
	msgBattery
	msgDisplay
	msgDiagnostic
)

func (k messageKind) String() string {
	switch k {
	case msgSpeed:
		return "speed"
	case msgMotor:
		return "motor"
	case msgBattery:
		return "battery"
	case msgDisplay:
		return "display"
	case msgDiagnostic:
		return "diagnostic"
	default:
		return "unknown"
	}
}

// fieldSpec locates one value inside a payload. Two-byte fields are big
// endian, matching the drive's wire order.
type fieldSpec struct {
	offset int
	size   int // 1 or 2
	scale  float64
}

func (f fieldSpec) decode(data []byte) float64 {
	if f.size == 2 {
		return float64(uint16(data[f.offset])<<8|uint16(data[f.offset+1])) * f.scale
	}
	return float64(data[f.offset]) * f.scale
}

func (f fieldSpec) encode(data []byte, value float64) {
	raw := uint16(value/f.scale + 0.5)
	if f.size == 2 {
		data[f.offset] = byte(raw >> 8)
		data[f.offset+1] = byte(raw)
	} else {
		if raw > 0xFF {
			raw = 0xFF
		}
		data[f.offset] = byte(raw)
	}
}

// DividerBounds is the divider range and slew rate a generation tolerates
// before the drive flags an implausible sensor signal.
type DividerBounds struct {
	Min  float64
	Max  float64
	Slew float64 // max divider change per processed capture
}

// generationInfo is one entry of the generation-indexed protocol table.
// One decode/encode path is parameterized by this entry instead of a
// handler function per generation.
type generationInfo struct {
	Generation BoschGeneration
	Checksum   checksumKind

	// Minimum payload length per message kind, checksum included.
	MsgLen map[messageKind]int

	Speed        fieldSpec // speed message, km/h
	MotorPower   fieldSpec // motor message, percent
	BatteryLevel fieldSpec // battery message, percent
	AssistLevel  fieldSpec // display message
	ErrorCode    fieldSpec // diagnostic message

	// SpeedOverCAN is set for generations whose controller reads wheel
	// speed from the bus instead of the dedicated sensor line. For these
	// the emulator's transformed value must also be reflected on CAN.
	SpeedOverCAN bool

	Divider DividerBounds
}

var generationTable = map[BoschGeneration]generationInfo{
	Gen1: {
		Generation: Gen1,
		Checksum:   checksumSum8,
		MsgLen: map[messageKind]int{
			msgSpeed: 4, msgMotor: 4, msgBattery: 4, msgDisplay: 4, msgDiagnostic: 4,
		},
		Speed:        fieldSpec{offset: 0, size: 1, scale: 1},
		MotorPower:   fieldSpec{offset: 0, size: 1, scale: 1},
		BatteryLevel: fieldSpec{offset: 0, size: 1, scale: 1},
		AssistLevel:  fieldSpec{offset: 0, size: 1, scale: 1},
		ErrorCode:    fieldSpec{offset: 0, size: 2, scale: 1},
		Divider:      DividerBounds{Min: 0.5, Max: 2.0, Slew: 0.30},
	},
	Gen2: {
		Generation: Gen2,
		Checksum:   checksumXor8,
		MsgLen: map[messageKind]int{
			msgSpeed: 4, msgMotor: 4, msgBattery: 4, msgDisplay: 4, msgDiagnostic: 4,
		},
		Speed:        fieldSpec{offset: 0, size: 1, scale: 1},
		MotorPower:   fieldSpec{offset: 0, size: 1, scale: 1},
		BatteryLevel: fieldSpec{offset: 0, size: 1, scale: 1},
		AssistLevel:  fieldSpec{offset: 0, size: 1, scale: 1},
		ErrorCode:    fieldSpec{offset: 0, size: 2, scale: 1},
		Divider:      DividerBounds{Min: 0.5, Max: 2.0, Slew: 0.25},
	},
	Gen3: {
		Generation: Gen3,
		Checksum:   checksumCRC8,
		MsgLen: map[messageKind]int{
			msgSpeed: 6, msgMotor: 6, msgBattery: 4, msgDisplay: 4, msgDiagnostic: 5,
		},
		Speed:        fieldSpec{offset: 0, size: 2, scale: 0.1},
		MotorPower:   fieldSpec{offset: 0, size: 1, scale: 1},
		BatteryLevel: fieldSpec{offset: 0, size: 1, scale: 1},
		AssistLevel:  fieldSpec{offset: 0, size: 1, scale: 1},
		ErrorCode:    fieldSpec{offset: 0, size: 2, scale: 1},
		Divider:      DividerBounds{Min: 0.4, Max: 2.5, Slew: 0.20},
	},
	Gen4: {
		Generation: Gen4,
		Checksum:   checksumCRC8,
		MsgLen: map[messageKind]int{
			msgSpeed: 6, msgMotor: 6, msgBattery: 5, msgDisplay: 5, msgDiagnostic: 5,
		},
		Speed:        fieldSpec{offset: 0, size: 2, scale: 0.1},
		MotorPower:   fieldSpec{offset: 0, size: 1, scale: 1},
		BatteryLevel: fieldSpec{offset: 0, size: 1, scale: 1},
		AssistLevel:  fieldSpec{offset: 0, size: 1, scale: 1},
		ErrorCode:    fieldSpec{offset: 0, size: 2, scale: 1},
		SpeedOverCAN: true,
		Divider:      DividerBounds{Min: 0.4, Max: 1.8, Slew: 0.15},
	},
	Gen5Smart: {
		Generation: Gen5Smart,
		Checksum:   checksumCRC16,
		MsgLen: map[messageKind]int{
			msgSpeed: 8, msgMotor: 8, msgBattery: 6, msgDisplay: 6, msgDiagnostic: 6,
		},
		Speed:        fieldSpec{offset: 0, size: 2, scale: 0.01},
		MotorPower:   fieldSpec{offset: 0, size: 1, scale: 1},
		BatteryLevel: fieldSpec{offset: 0, size: 1, scale: 1},
		AssistLevel:  fieldSpec{offset: 0, size: 1, scale: 1},
		ErrorCode:    fieldSpec{offset: 0, size: 2, scale: 1},
		SpeedOverCAN: true,
		Divider:      DividerBounds{Min: 0.5, Max: 1.5, Slew: 0.10},
	},
}

// GenerationDividerBounds exposes the divider range a generation tolerates,
// consumed by the emulator's adaptive processing.
func GenerationDividerBounds(gen BoschGeneration) DividerBounds {
	if info, ok := generationTable[gen]; ok {
		return info.Divider
	}
	return DividerBounds{Min: 1, Max: 1, Slew: 0}
}

func lookupGeneration(gen BoschGeneration) (generationInfo, bool) {
	info, ok := generationTable[gen]
	return info, ok
}

// kindForID maps an arbitration id to a message kind. IDs are shared across
// generations so this does not consult the table.
func kindForID(id uint32) (messageKind, bool) {
	switch id {
	case SpeedMsgID:
		return msgSpeed, true
	case MotorMsgID:
		return msgMotor, true
	case BatteryMsgID:
		return msgBattery, true
	case DisplayMsgID:
		return msgDisplay, true
	case DiagnosticMsgID:
		return msgDiagnostic, true
	default:
		return 0, false
	}
}
