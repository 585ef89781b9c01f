package netdimm

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

func TestBuildPacket(t *testing.T) {
	tests := []struct {
		name       string
		packet     Packet
		wantID     byte
		wantFlags  byte
		wantLength int
	}{
		{
			name:       "Info request",
			packet:     Packet{ID: OpInfo},
			wantID:     0x18,
			wantFlags:  0,
			wantLength: 0,
		},
		{
			name:       "Flagged payload",
			packet:     Packet{ID: 0x04, Flags: 0x81, Data: []byte{1, 2, 3}},
			wantID:     0x04,
			wantFlags:  0x81,
			wantLength: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := BuildPacket(tt.packet)
			if err != nil {
				t.Fatalf("BuildPacket() error = %v", err)
			}
			if len(data) != HeaderSize+tt.wantLength {
				t.Errorf("BuildPacket() size = %d, want %d", len(data), HeaderSize+tt.wantLength)
			}

			id, flags, length := ParseHeader(binary.LittleEndian.Uint32(data[0:4]))
			if id != tt.wantID {
				t.Errorf("BuildPacket() ID = 0x%02x, want 0x%02x", id, tt.wantID)
			}
			if flags != tt.wantFlags {
				t.Errorf("BuildPacket() Flags = 0x%02x, want 0x%02x", flags, tt.wantFlags)
			}
			if length != tt.wantLength {
				t.Errorf("BuildPacket() Length = %d, want %d", length, tt.wantLength)
			}
		})
	}
}

func TestBuildPacket_HeaderBytes(t *testing.T) {
	data, err := BuildPacket(Packet{ID: OpInfo})
	if err != nil {
		t.Fatalf("BuildPacket() error = %v", err)
	}
	// 0x18000000 little endian
	want := []byte{0x00, 0x00, 0x00, 0x18}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("header byte %d = 0x%02x, want 0x%02x", i, data[i], want[i])
		}
	}
}

func TestBuildPacket_TooLarge(t *testing.T) {
	if _, err := BuildPacket(Packet{ID: 0x04, Data: make([]byte, MaxPayload+1)}); err != ErrPayloadTooLarge {
		t.Errorf("Expected ErrPayloadTooLarge, got %v", err)
	}
}

func infoPayload(version uint16, gameMB, dimmMB uint16, crc uint32) []byte {
	data := make([]byte, InfoReplySize)
	binary.LittleEndian.PutUint16(data[0:2], 0x0C)
	binary.LittleEndian.PutUint16(data[2:4], version)
	binary.LittleEndian.PutUint16(data[4:6], gameMB)
	binary.LittleEndian.PutUint16(data[6:8], dimmMB)
	binary.LittleEndian.PutUint32(data[8:12], crc)
	return data
}

func TestParseInfo(t *testing.T) {
	info, err := ParseInfo(infoPayload(0x0317, 248, 512, 0xDEADBEEF))
	if err != nil {
		t.Fatalf("ParseInfo() error = %v", err)
	}
	if info.Version != "3.17" {
		t.Errorf("Expected version 3.17, got %s", info.Version)
	}
	if info.GameMemoryMB != 248 {
		t.Errorf("Expected game memory 248, got %d", info.GameMemoryMB)
	}
	if info.DimmMemoryMB != 512 {
		t.Errorf("Expected DIMM memory 512, got %d", info.DimmMemoryMB)
	}
	if info.CurrentGameCRC != 0xDEADBEEF {
		t.Errorf("Expected CRC 0xDEADBEEF, got 0x%08x", info.CurrentGameCRC)
	}

	info, _ = ParseInfo(infoPayload(0x0102, 0, 0, 0))
	if info.Version != "1.02" {
		t.Errorf("Expected version 1.02, got %s", info.Version)
	}

	if _, err := ParseInfo(make([]byte, 8)); err == nil {
		t.Error("Expected error for short payload")
	}
}

// fakeDimm accepts one connection, swallows the noop and answers the info request.
func fakeDimm(t *testing.T, reply Packet) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		for i := 0; i < 2; i++ {
			p, err := receive(conn)
			if err != nil {
				return
			}
			if p.ID == OpInfo {
				_ = send(conn, reply)
			}
		}
		_, _ = io.Copy(io.Discard, conn)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestClientInfo(t *testing.T) {
	host, port := fakeDimm(t, Packet{ID: OpInfo, Data: infoPayload(0x0402, 100, 256, 0)})

	c := NewClient(2 * time.Second)
	c.Port = port
	info, err := c.Info(context.Background(), host)
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Version != "4.02" {
		t.Errorf("Expected version 4.02, got %s", info.Version)
	}
	if info.DimmMemoryMB != 256 {
		t.Errorf("Expected DIMM memory 256, got %d", info.DimmMemoryMB)
	}
}

func TestClientInfo_UnexpectedReply(t *testing.T) {
	host, port := fakeDimm(t, Packet{ID: 0x10, Data: []byte{0, 0, 0, 0}})

	c := NewClient(2 * time.Second)
	c.Port = port
	if _, err := c.Info(context.Background(), host); err == nil {
		t.Error("Expected error for unexpected reply id")
	}
}

func TestClientInfo_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	c := NewClient(500 * time.Millisecond)
	c.Port = port
	if _, err := c.Info(context.Background(), "127.0.0.1"); err == nil {
		t.Error("Expected error connecting to a closed port")
	}
}
