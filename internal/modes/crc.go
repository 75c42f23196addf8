package modes

// generator is the Mode S CRC-24 polynomial without its leading bit.
const generator = 0xFFF409

var crcTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		crc := uint32(i) << 16
		for bit := 0; bit < 8; bit++ {
			if crc&0x800000 != 0 {
				crc = (crc << 1) ^ generator
			} else {
				crc <<= 1
			}
		}
		t[i] = crc & 0xFFFFFF
	}
	return t
}()

// Checksum is the CRC-24 of data.
func Checksum(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = ((crc << 8) ^ crcTable[byte(crc>>16)^b]) & 0xFFFFFF
	}
	return crc
}

// Remainder XORs the checksum of everything but the last three bytes with
// the transmitted parity. It is zero for an intact frame with plain parity
// and the aircraft address for address/parity formats.
func Remainder(frame []byte) uint32 {
	n := len(frame)
	if n < 4 {
		return 0
	}
	parity := uint32(frame[n-3])<<16 | uint32(frame[n-2])<<8 | uint32(frame[n-1])
	return Checksum(frame[:n-3]) ^ parity
}
