package crc

import "testing"

func TestChecksum8KnownValue(t *testing.T) {
	// SII header bytes for a minimal EEPROM image; value verified against
	// an independent CRC8/poly-0x07 calculator.
	data := []byte{0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	got := Checksum8(data)

	const want = 0x7c
	if got != want {
		t.Fatalf("Checksum8 = %x, want %x", got, want)
	}
}

func TestChecksumIncrementalMatchesOneShot(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	oneShot := Checksum8(data)

	c := New()
	c.Update(data[:2])
	c.Update(data[2:])
	if c.Sum() != oneShot {
		t.Fatalf("incremental = %x, one-shot = %x", c.Sum(), oneShot)
	}
}

func TestChecksumEmptyIsZero(t *testing.T) {
	if Checksum8(nil) != 0 {
		t.Fatalf("expected zero checksum for empty input")
	}
}
