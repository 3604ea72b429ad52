package cbp

import (
	"encoding/binary"

	"github.com/jeeves-cluster-organization/cbp-bus/cbperr"
)

// Magic and version constants for the CBP frame header (§4.3.1, §6).
const (
	magicByte0 byte = 0xCB
	magicByte1 byte = 0x50
	Version    byte = 0x01

	headerSize = 8
)

// Flag bits within the header's flags byte (§4.3.1).
const (
	FlagIsDelta    byte = 0x01
	FlagHasHash    byte = 0x02
	FlagCompressed byte = 0x04
	FlagEncrypted  byte = 0x08
)

// header is the parsed 8-byte frame header.
type header struct {
	version byte
	flags   byte
	length  uint16
	crc     uint16
}

func buildHeader(flags byte, payload []byte) []byte {
	buf := make([]byte, headerSize)
	buf[0] = magicByte0
	buf[1] = magicByte1
	buf[2] = Version
	buf[3] = flags
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(payload)))
	binary.BigEndian.PutUint16(buf[6:8], crc16(payload))
	return buf
}

func parseHeader(frame []byte) (header, error) {
	if len(frame) < headerSize {
		return header{}, cbperr.New(cbperr.KindFrameTooShort, "frame shorter than 8-byte header")
	}
	if frame[0] != magicByte0 || frame[1] != magicByte1 {
		return header{}, cbperr.New(cbperr.KindBadMagic, "frame does not start with the CBP magic bytes")
	}
	h := header{
		version: frame[2],
		flags:   frame[3],
		length:  binary.BigEndian.Uint16(frame[4:6]),
		crc:     binary.BigEndian.Uint16(frame[6:8]),
	}
	if h.version != Version {
		return header{}, cbperr.New(cbperr.KindUnsupportedVersion, "unsupported frame version")
	}
	return h, nil
}

// crc16 computes CRC-16/CCITT-FALSE (polynomial 0x1021, init 0xFFFF, no XOR
// out) over data, bit-for-bit matching the reference implementation's
// static _crc16 method (§4.3.1, §6).
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
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

func hasFlag(flags, bit byte) bool {
	return flags&bit != 0
}
