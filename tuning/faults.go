package tuning

// TuningFault identifies a fault raised by the device itself, as opposed to
// drive-system error codes carried in diagnostic frames.
type TuningFault uint32

const (
	FaultNone TuningFault = iota
	FaultCANTimeout
	FaultChecksumErrors
	FaultSignalLost
	FaultSignalQualityLow
	FaultOverTemperature
	FaultSensorImplausible
	FaultSelfTestFailed
)

type FaultSeverity int

const (
	SeverityWarning FaultSeverity = iota
	SeverityCritical
)

type FaultConfig struct {
	Code        TuningFault
	Description string
	Severity    FaultSeverity
}

var faultConfigs = map[TuningFault]FaultConfig{
	FaultCANTimeout:        {FaultCANTimeout, "Drive system CAN timeout", SeverityCritical},
	FaultChecksumErrors:    {FaultChecksumErrors, "Frame error count over threshold", SeverityCritical},
	FaultSignalLost:        {FaultSignalLost, "Wheel sensor signal lost", SeverityWarning},
	FaultSignalQualityLow:  {FaultSignalQualityLow, "Wheel sensor signal quality low", SeverityWarning},
	FaultOverTemperature:   {FaultOverTemperature, "Controller over-temperature", SeverityCritical},
	FaultSensorImplausible: {FaultSensorImplausible, "Implausible sensor reading", SeverityWarning},
	FaultSelfTestFailed:    {FaultSelfTestFailed, "Sensor self-test failed", SeverityCritical},
}

func GetFaultConfig(fault TuningFault) (FaultConfig, bool) {
	config, ok := faultConfigs[fault]
	return config, ok
}

// Drive-system error codes as carried in Bosch diagnostic frames.
var driveErrorDescriptions = map[uint16]string{
	0x0000: "No error",
	0x0101: "Battery over-voltage",
	0x0102: "Battery under-voltage",
	0x0201: "Motor short-circuit",
	0x0202: "Motor stalled",
	0x0203: "Motor hall sensor abnormal",
	0x0204: "Motor open-circuit",
	0x0301: "Speed sensor missing",
	0x0302: "Speed sensor implausible",
	0x0401: "Drive unit over-temperature",
	0x0402: "Battery over-temperature",
	0x0501: "Display communication lost",
	0x0502: "Assist configuration invalid",
}

// DriveErrorDescription returns a human-readable description for a
// drive-system error code, consumed by logging and telemetry.
func DriveErrorDescription(code uint16) string {
	if desc, ok := driveErrorDescriptions[code]; ok {
		return desc
	}
	return "Unknown error"
}
