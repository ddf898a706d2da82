// Package common contains helpers shared by the device drivers, such as the
// CRC-8 used to protect data words on Sensirion style sensors (E+E TEE301,
// SHT3x, SHTC3, SHT4x).
package common

import "github.com/sigurn/crc8"

// CRC8Params describes the checksum: polynomial 0x31, initial value 0xFF,
// MSB first, no reflection, no final XOR.
var CRC8Params = crc8.Params{
	Poly:   0x31,
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0xF7,
	Name:   "CRC-8/NRSC-5",
}

var crcTable = crc8.MakeTable(CRC8Params)

// CRC8 calculates the checksum of the whole slice.
func CRC8(data []byte) byte {
	return crc8.Checksum(data, crcTable)
}

// Compute calculates the checksum of buf[start:end].
func Compute(buf []byte, start, end int) byte {
	return CRC8(buf[start:end])
}

// Verify reports whether the checksum of buf[start:end] equals expected.
func Verify(buf []byte, start, end int, expected byte) bool {
	return Compute(buf, start, end) == expected
}
