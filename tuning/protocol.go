package tuning

import (
	"sync"
	"time"

	"github.com/brutella/can"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultHeartbeatInterval is how often the device asserts its
	// presence on the bus.
	DefaultHeartbeatInterval = 500 * time.Millisecond

	// DefaultConnectionTimeout marks the drive disconnected when no valid
	// frame arrived within this window.
	DefaultConnectionTimeout = 2 * time.Second

	// DefaultErrorThreshold is the error count above which the safety
	// monitor treats the bus as unhealthy.
	DefaultErrorThreshold = 50

	// DeviceID identifies this device in heartbeat and shutdown frames.
	DeviceID = 0x5E
)

// PublishFunc sends one frame to the bus transport. The handler makes no
// assumption about arbitration or retransmission.
type PublishFunc func(can.Frame) error

// ProtocolHandler decodes and encodes Bosch drive frames for the configured
// generation and keeps the connection/heartbeat bookkeeping. It is the
// single writer of SystemStatus; other components read snapshots.
type ProtocolHandler struct {
	mu      sync.RWMutex
	info    generationInfo
	profile Profile
	publish PublishFunc

	status         SystemStatus
	heartbeatIntvl time.Duration
	connTimeout    time.Duration
	errorThreshold uint32
	diagnostics    bool

	lastHeartbeat time.Time
	heartbeatSeq  uint8
	tuningStatus  func() bool // reported in the heartbeat payload
	shutdownSent  bool
}

// NewProtocolHandler creates a handler for the given generation. The
// tuningStatus callback provides the status bit carried in heartbeats; nil
// means "never active".
func NewProtocolHandler(gen BoschGeneration, publish PublishFunc, tuningStatus func() bool) (*ProtocolHandler, error) {
	info, ok := lookupGeneration(gen)
	if !ok {
		return nil, ErrUnknownGeneration
	}
	if tuningStatus == nil {
		tuningStatus = func() bool { return false }
	}
	return &ProtocolHandler{
		info:           info,
		publish:        publish,
		heartbeatIntvl: DefaultHeartbeatInterval,
		connTimeout:    DefaultConnectionTimeout,
		errorThreshold: DefaultErrorThreshold,
		tuningStatus:   tuningStatus,
	}, nil
}

// SetGeneration switches the decode/encode table. Takes effect on the next
// frame.
func (ph *ProtocolHandler) SetGeneration(gen BoschGeneration) error {
	info, ok := lookupGeneration(gen)
	if !ok {
		return ErrUnknownGeneration
	}
	ph.mu.Lock()
	if ph.profile != nil {
		info = ph.profile.apply(info)
	}
	ph.info = info
	ph.mu.Unlock()
	log.Infof("[CAN] generation set to %s (checksum %s)", gen, info.Checksum)
	return nil
}

// ApplyProfile overlays per-generation overrides onto the built-in table.
// The overrides persist across SetGeneration calls.
func (ph *ProtocolHandler) ApplyProfile(p Profile) {
	ph.mu.Lock()
	ph.profile = p
	ph.info = p.apply(ph.info)
	ph.mu.Unlock()
}

// DividerBounds returns the divider tolerance of the active generation,
// profile overrides included.
func (ph *ProtocolHandler) DividerBounds() DividerBounds {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	return ph.info.Divider
}

// Generation returns the active generation.
func (ph *ProtocolHandler) Generation() BoschGeneration {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	return ph.info.Generation
}

// SpeedOverCAN reports whether the active generation reads wheel speed from
// the bus, requiring the emulator's value to be reflected in speed frames.
func (ph *ProtocolHandler) SpeedOverCAN() bool {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	return ph.info.SpeedOverCAN
}

func (ph *ProtocolHandler) SetHeartbeatInterval(d time.Duration) {
	ph.mu.Lock()
	ph.heartbeatIntvl = d
	ph.mu.Unlock()
}

func (ph *ProtocolHandler) SetConnectionTimeout(d time.Duration) {
	ph.mu.Lock()
	ph.connTimeout = d
	ph.mu.Unlock()
}

func (ph *ProtocolHandler) SetErrorThreshold(n uint32) {
	ph.mu.Lock()
	ph.errorThreshold = n
	ph.mu.Unlock()
}

// SetDiagnostics toggles verbose frame tracing. Accepted and dropped frames
// are then logged at info level instead of debug.
func (ph *ProtocolHandler) SetDiagnostics(enable bool) {
	ph.mu.Lock()
	ph.diagnostics = enable
	ph.mu.Unlock()
}

// tracef emits the per-frame trace. Caller holds the lock.
func (ph *ProtocolHandler) tracef(format string, args ...interface{}) {
	if ph.diagnostics {
		log.Infof(format, args...)
	} else {
		log.Debugf(format, args...)
	}
}

// HandleFrame decodes one inbound frame. Malformed, unknown and
// failed-checksum frames are counted and dropped; they never return an
// error and never touch the status fields.
func (ph *ProtocolHandler) HandleFrame(frame can.Frame) error {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	kind, ok := kindForID(frame.ID)
	if !ok {
		ph.countError("unknown id", frame)
		return nil
	}
	minLen, ok := ph.info.MsgLen[kind]
	if !ok || int(frame.Length) < minLen || frame.Length > 8 {
		ph.countError("bad length", frame)
		return nil
	}
	payload := frame.Data[:frame.Length]
	if !verifyChecksum(ph.info.Checksum, payload) {
		ph.countError("checksum mismatch", frame)
		return nil
	}

	switch kind {
	case msgSpeed:
		ph.status.CurrentSpeed = ph.info.Speed.decode(payload)
	case msgMotor:
		ph.status.MotorPower = clampByte(ph.info.MotorPower.decode(payload))
	case msgBattery:
		ph.status.BatteryLevel = clampByte(ph.info.BatteryLevel.decode(payload))
	case msgDisplay:
		ph.status.AssistLevel = clampByte(ph.info.AssistLevel.decode(payload))
	case msgDiagnostic:
		ph.status.LastError = uint16(ph.info.ErrorCode.decode(payload))
		if ph.status.LastError != 0 {
			log.Warnf("[CAN] diagnostic: 0x%04X %s", ph.status.LastError, DriveErrorDescription(ph.status.LastError))
		}
	}

	ph.status.LastMessage = time.Now()
	ph.status.Connected = true
	ph.status.ValidFrames++
	ph.tracef("[CAN] RX %s id=0x%03X len=%d", kind, frame.ID, frame.Length)
	return nil
}

func (ph *ProtocolHandler) countError(reason string, frame can.Frame) {
	ph.status.ErrorCount++
	ph.tracef("[CAN] dropped frame id=0x%03X len=%d: %s (errors=%d)",
		frame.ID, frame.Length, reason, ph.status.ErrorCount)
}

// Tick runs the heartbeat and staleness bookkeeping. Called at a short
// fixed period.
func (ph *ProtocolHandler) Tick(now time.Time) {
	ph.mu.Lock()

	wasConnected := ph.status.Connected
	ph.status.Connected = !ph.status.LastMessage.IsZero() &&
		now.Sub(ph.status.LastMessage) <= ph.connTimeout
	if wasConnected && !ph.status.Connected {
		log.Warnf("[CAN] drive connection lost (no frame for %s)", ph.connTimeout)
	}

	sendHeartbeat := now.Sub(ph.lastHeartbeat) >= ph.heartbeatIntvl
	var hb can.Frame
	if sendHeartbeat {
		ph.lastHeartbeat = now
		hb = ph.encodeHeartbeatLocked()
	}
	publish := ph.publish
	ph.mu.Unlock()

	if sendHeartbeat && publish != nil {
		if err := publish(hb); err != nil {
			log.Errorf("[CAN] heartbeat publish failed: %v", err)
		}
	}
}

// EncodeSpeed builds a speed frame carrying the emulator's transformed
// value, for generations that read speed from CAN.
func (ph *ProtocolHandler) EncodeSpeed(kmh float64) can.Frame {
	ph.mu.RLock()
	defer ph.mu.RUnlock()

	length := ph.info.MsgLen[msgSpeed]
	data := make([]byte, length)
	ph.info.Speed.encode(data, kmh)
	applyChecksum(ph.info.Checksum, data)
	return packFrame(SpeedMsgID, data)
}

// EncodeHeartbeat builds the periodic keep-alive frame: device identity,
// tuning status, sequence counter and generation.
func (ph *ProtocolHandler) EncodeHeartbeat() can.Frame {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	return ph.encodeHeartbeatLocked()
}

func (ph *ProtocolHandler) encodeHeartbeatLocked() can.Frame {
	ph.heartbeatSeq++
	data := make([]byte, 4+ph.info.Checksum.size())
	data[0] = DeviceID
	data[1] = boolToByte(ph.tuningStatus())
	data[2] = ph.heartbeatSeq
	data[3] = byte(ph.info.Generation)
	applyChecksum(ph.info.Checksum, data)
	return packFrame(HeartbeatMsgID, data)
}

// Publish sends a frame through the handler's transport. Returns nil when
// no transport is wired.
func (ph *ProtocolHandler) Publish(frame can.Frame) error {
	ph.mu.RLock()
	publish := ph.publish
	ph.mu.RUnlock()
	if publish == nil {
		return nil
	}
	return publish(frame)
}

// SendShutdown publishes the shutdown notification exactly once.
func (ph *ProtocolHandler) SendShutdown() error {
	ph.mu.Lock()
	if ph.shutdownSent {
		ph.mu.Unlock()
		return nil
	}
	ph.shutdownSent = true
	data := make([]byte, 2+ph.info.Checksum.size())
	data[0] = DeviceID
	data[1] = 0xFF
	applyChecksum(ph.info.Checksum, data)
	frame := packFrame(ShutdownMsgID, data)
	publish := ph.publish
	ph.mu.Unlock()

	log.Infof("[CAN] sending shutdown notification")
	if publish == nil {
		return nil
	}
	return publish(frame)
}

// Status returns a read-only snapshot.
func (ph *ProtocolHandler) Status() SystemStatus {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	return ph.status
}

// ErrorsExceeded reports whether the transient error count passed the
// configured threshold. Surfaced to the safety monitor, never handled here.
func (ph *ProtocolHandler) ErrorsExceeded() bool {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	return ph.status.ErrorCount > ph.errorThreshold
}

// ClearErrors resets the transient error counter.
func (ph *ProtocolHandler) ClearErrors() {
	ph.mu.Lock()
	ph.status.ErrorCount = 0
	ph.mu.Unlock()
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// packFrame creates a CAN frame with the given ID and data.
func packFrame(id uint32, data []byte) can.Frame {
	var frameData [8]byte
	copy(frameData[:], data)
	return can.Frame{
		ID:     id,
		Length: uint8(len(data)),
		Flags:  0,
		Data:   frameData,
	}
}
