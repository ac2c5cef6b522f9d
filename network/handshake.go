package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Dial opens a stream to addr and performs the id exchange: the dialer
// writes its own id first, then reads the acceptor's.
func Dial(ctx context.Context, addr string, selfID int, timeout time.Duration) (net.Conn, int, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("dial %s: %w", addr, err)
	}
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	if err := writeID(conn, selfID); err != nil {
		conn.Close()
		return nil, 0, err
	}
	peerID, err := readID(conn)
	if err != nil {
		conn.Close()
		return nil, 0, err
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, peerID, nil
}

// Accept completes the id exchange on a freshly accepted stream: it reads
// the dialer's id, then writes selfID back.
func Accept(conn net.Conn, selfID int, timeout time.Duration) (int, error) {
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	peerID, err := readID(conn)
	if err != nil {
		return 0, err
	}
	if err := writeID(conn, selfID); err != nil {
		return 0, err
	}
	_ = conn.SetDeadline(time.Time{})
	return peerID, nil
}

func writeID(conn net.Conn, id int) error {
	if _, err := conn.Write([]byte(strconv.Itoa(id))); err != nil {
		return fmt.Errorf("handshake write: %w", err)
	}
	return nil
}

func readID(conn net.Conn) (int, error) {
	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("handshake read: %w", err)
	}
	id, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0, fmt.Errorf("handshake: malformed id %q", buf[:n])
	}
	if id <= 0 {
		return 0, fmt.Errorf("handshake: invalid id %d", id)
	}
	return id, nil
}

// CreateListeners opens n loopback listeners on ephemeral ports and
// returns them with their addresses, keyed from 0.
func CreateListeners(n int) (map[int]net.Listener, map[int]string) {
	listeners := make(map[int]net.Listener)
	addresses := make(map[int]string)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			panic(err)
		}
		listeners[i] = l
		addresses[i] = l.Addr().String()
	}
	return listeners, addresses
}
