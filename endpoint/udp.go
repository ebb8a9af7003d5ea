package endpoint

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshcore/limits"
)

// UDP is a minimal live-network Endpoint. It deliberately does not attempt
// NAT traversal, candidate exchange, or fragmentation — those are out of
// scope (spec §1); it exists only to satisfy Endpoint for a real
// deployment.
type UDP struct {
	conn    *net.UDPConn
	local   Address
	inbound chan Packet
	logger  *logrus.Entry

	closeCh chan struct{}
}

// NewUDP binds a UDP socket at host:port and begins reading inbound
// packets in the background.
func NewUDP(host string, port int) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("endpoint: resolve udp addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("endpoint: listen udp: %w", err)
	}

	u := &UDP{
		conn:    conn,
		local:   Address{Host: host, Port: port},
		inbound: make(chan Packet, 256),
		logger:  logrus.WithFields(logrus.Fields{"component": "endpoint", "mode": "udp", "addr": conn.LocalAddr().String()}),
		closeCh: make(chan struct{}),
	}
	go u.readLoop()
	return u, nil
}

func (u *UDP) readLoop() {
	buf := make([]byte, limits.MaxSignedPacket)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.closeCh:
				return
			default:
				u.logger.WithError(err).Warn("endpoint: udp read failed")
				return
			}
		}
		payload := append([]byte(nil), buf[:n]...)
		pkt := Packet{From: Address{Host: from.IP.String(), Port: from.Port}, Payload: payload}
		select {
		case u.inbound <- pkt:
		default:
			u.logger.Warn("endpoint: inbound queue full, dropping packet")
		}
	}
}

// Send implements Endpoint.
func (u *UDP) Send(addrs []Address, packet []byte) error {
	var lastErr error
	for _, addr := range addrs {
		raddr, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			lastErr = fmt.Errorf("endpoint: resolve %s: %w", addr, err)
			continue
		}
		if _, err := u.conn.WriteToUDP(packet, raddr); err != nil {
			lastErr = fmt.Errorf("endpoint: write to %s: %w", addr, err)
		}
	}
	return lastErr
}

// Inbound implements Endpoint.
func (u *UDP) Inbound() <-chan Packet { return u.inbound }

// LocalAddress implements Endpoint.
func (u *UDP) LocalAddress() Address { return u.local }

// Close implements Endpoint.
func (u *UDP) Close() error {
	close(u.closeCh)
	err := u.conn.Close()
	close(u.inbound)
	return err
}
