package netdimm

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// Client reads information from NetDimms over TCP.
type Client struct {
	Port    int
	Timeout time.Duration
	Dialer  net.Dialer
}

// NewClient creates a client that gives each exchange timeout to complete.
func NewClient(timeout time.Duration) *Client {
	return &Client{Port: DefaultPort, Timeout: timeout}
}

// Info connects to host and requests its firmware information.
func (c *Client) Info(ctx context.Context, host string) (Info, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	conn, err := c.Dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return Info{}, fmt.Errorf("netdimm: connect %s: %w", host, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := send(conn, Packet{ID: OpNoop}); err != nil {
		return Info{}, err
	}
	if err := send(conn, Packet{ID: OpInfo}); err != nil {
		return Info{}, err
	}

	reply, err := receive(conn)
	if err != nil {
		return Info{}, err
	}
	if reply.ID != OpInfo {
		return Info{}, fmt.Errorf("netdimm: unexpected reply 0x%02x to info request", reply.ID)
	}
	return ParseInfo(reply.Data)
}

func send(w io.Writer, p Packet) error {
	data, err := BuildPacket(p)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("netdimm: send 0x%02x: %w", p.ID, err)
	}
	return nil
}

func receive(r io.Reader) (Packet, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Packet{}, fmt.Errorf("netdimm: read header: %w", err)
	}
	id, flags, length := ParseHeader(binary.LittleEndian.Uint32(header[:]))
	p := Packet{ID: id, Flags: flags}
	if length > 0 {
		p.Data = make([]byte, length)
		if _, err := io.ReadFull(r, p.Data); err != nil {
			return Packet{}, fmt.Errorf("netdimm: read payload: %w", err)
		}
	}
	return p, nil
}
