package tuning

// checksumKind selects the validation rule a generation applies to its
// frames. The checksum always occupies the trailing byte(s) of the payload.
type checksumKind int

const (
	checksumSum8 checksumKind = iota // Gen1
	checksumXor8                     // Gen2
	checksumCRC8                     // Gen3, Gen4
	checksumCRC16                    // Gen5 smart system
)

func (k checksumKind) String() string {
	switch k {
	case checksumSum8:
		return "sum8"
	case checksumXor8:
		return "xor8"
	case checksumCRC8:
		return "crc8"
	case checksumCRC16:
		return "crc16"
	default:
		return "unknown"
	}
}

// size returns how many trailing payload bytes the checksum occupies.
func (k checksumKind) size() int {
	if k == checksumCRC16 {
		return 2
	}
	return 1
}

func sum8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

func xor8(data []byte) byte {
	var x byte
	for _, b := range data {
		x ^= b
	}
	return x
}

// crc8 implements the poly 0x07 CRC used by the Gen3/Gen4 message format.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// crc16ccitt implements the CCITT CRC (poly 0x1021, init 0x0000) used by the
// Gen5 smart system frames.
func crc16ccitt(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// applyChecksum writes the checksum for kind k over data[:len(data)-size]
// into the trailing bytes. The slice must include room for the checksum.
func applyChecksum(k checksumKind, data []byte) {
	n := len(data) - k.size()
	switch k {
	case checksumSum8:
		data[n] = sum8(data[:n])
	case checksumXor8:
		data[n] = xor8(data[:n])
	case checksumCRC8:
		data[n] = crc8(data[:n])
	case checksumCRC16:
		crc := crc16ccitt(data[:n])
		data[n] = byte(crc >> 8)
		data[n+1] = byte(crc)
	}
}

// verifyChecksum checks the trailing checksum of data against kind k.
func verifyChecksum(k checksumKind, data []byte) bool {
	if len(data) <= k.size() {
		return false
	}
	n := len(data) - k.size()
	switch k {
	case checksumSum8:
		return data[n] == sum8(data[:n])
	case checksumXor8:
		return data[n] == xor8(data[:n])
	case checksumCRC8:
		return data[n] == crc8(data[:n])
	case checksumCRC16:
		crc := crc16ccitt(data[:n])
		return data[n] == byte(crc>>8) && data[n+1] == byte(crc)
	default:
		return false
	}
}
