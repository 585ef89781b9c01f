// Package netdimm provides NetDimm protocol packet building and a minimal
// client for reading firmware information from a cabinet.
package netdimm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// OpNoop is sent after connecting; a real NetDimm accepts it silently.
	OpNoop byte = 0x01
	// OpInfo requests firmware and memory information.
	OpInfo byte = 0x18
	// HeaderSize is the size of every packet header.
	HeaderSize = 4
	// InfoReplySize is the payload size of an info reply.
	InfoReplySize = 12
	// DefaultPort is the NetDimm TCP port.
	DefaultPort = 10703
	// MaxPayload is the largest payload a header can describe.
	MaxPayload = 0xFFFF
)

// ErrPayloadTooLarge is returned when building a packet whose payload does
// not fit the 16-bit length field.
var ErrPayloadTooLarge = errors.New("netdimm: payload too large")

// Packet is a single NetDimm message.
type Packet struct {
	ID    byte
	Flags byte
	Data  []byte
}

// Header packs id, flags and length into the little-endian header word.
func Header(id, flags byte, length int) uint32 {
	return uint32(id)<<24 | uint32(flags)<<16 | uint32(length&0xFFFF)
}

// ParseHeader splits a header word.
func ParseHeader(word uint32) (id, flags byte, length int) {
	return byte(word >> 24), byte(word >> 16), int(word & 0xFFFF)
}

// BuildPacket serializes a packet: header (4 bytes, little endian) followed by data.
func BuildPacket(p Packet) ([]byte, error) {
	if len(p.Data) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	packet := make([]byte, HeaderSize+len(p.Data))
	binary.LittleEndian.PutUint32(packet[0:4], Header(p.ID, p.Flags, len(p.Data)))
	copy(packet[HeaderSize:], p.Data)
	return packet, nil
}

// Info is the decoded reply to an info request.
type Info struct {
	Version        string // firmware version, e.g. "3.17"
	GameMemoryMB   int    // memory available for a game image
	DimmMemoryMB   int    // installed DIMM memory
	CurrentGameCRC uint32
}

// ParseInfo decodes a 12-byte info payload: unknown u16, BCD version u16,
// game memory u16, DIMM memory u16, CRC u32, all little endian.
func ParseInfo(data []byte) (Info, error) {
	if len(data) != InfoReplySize {
		return Info{}, fmt.Errorf("netdimm: info reply has %d bytes, want %d", len(data), InfoReplySize)
	}
	version := binary.LittleEndian.Uint16(data[2:4])
	return Info{
		Version:        fmt.Sprintf("%x.%02x", version>>8, version&0xFF),
		GameMemoryMB:   int(binary.LittleEndian.Uint16(data[4:6])),
		DimmMemoryMB:   int(binary.LittleEndian.Uint16(data[6:8])),
		CurrentGameCRC: binary.LittleEndian.Uint32(data[8:12]),
	}, nil
}
