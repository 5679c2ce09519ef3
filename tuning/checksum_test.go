package tuning

import "testing"

func TestSum8(t *testing.T) {
	if got := sum8([]byte{0x01, 0x02, 0x03}); got != 0x06 {
		t.Errorf("expected 0x06, got 0x%02X", got)
	}
	// Overflow wraps.
	if got := sum8([]byte{0xFF, 0x02}); got != 0x01 {
		t.Errorf("expected 0x01, got 0x%02X", got)
	}
}

func TestXor8(t *testing.T) {
	if got := xor8([]byte{0x0F, 0xF0}); got != 0xFF {
		t.Errorf("expected 0xFF, got 0x%02X", got)
	}
	if got := xor8([]byte{0xAA, 0xAA}); got != 0x00 {
		t.Errorf("expected 0x00, got 0x%02X", got)
	}
}

func TestCRC8_KnownValue(t *testing.T) {
	// CRC-8 poly 0x07 of "123456789" is 0xF4.
	if got := crc8([]byte("123456789")); got != 0xF4 {
		t.Errorf("expected 0xF4, got 0x%02X", got)
	}
}

func TestCRC16CCITT_KnownValue(t *testing.T) {
	// CRC-16/XMODEM (poly 0x1021, init 0x0000) of "123456789" is 0x31C3.
	if got := crc16ccitt([]byte("123456789")); got != 0x31C3 {
		t.Errorf("expected 0x31C3, got 0x%04X", got)
	}
}

func TestApplyVerifyChecksum(t *testing.T) {
	kinds := []checksumKind{checksumSum8, checksumXor8, checksumCRC8, checksumCRC16}

	for _, k := range kinds {
		data := make([]byte, 4+k.size())
		data[0], data[1], data[2], data[3] = 0x12, 0x34, 0x56, 0x78

		applyChecksum(k, data)
		if !verifyChecksum(k, data) {
			t.Errorf("%s: checksum does not verify after apply", k)
		}

		// Any payload corruption must fail verification.
		data[1] ^= 0x01
		if verifyChecksum(k, data) {
			t.Errorf("%s: corrupted payload still verifies", k)
		}
	}
}

func TestVerifyChecksum_TooShort(t *testing.T) {
	if verifyChecksum(checksumSum8, []byte{0x00}) {
		t.Error("single byte payload should not verify")
	}
	if verifyChecksum(checksumCRC16, []byte{0x00, 0x00}) {
		t.Error("crc16 needs more than the checksum itself")
	}
}
