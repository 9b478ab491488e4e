package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/event"
	"github.com/jroosing/lernadns/internal/pool"
	"github.com/jroosing/lernadns/internal/transaction"
)

// bufferPool reduces allocations for incoming datagrams. Each buffer is
// sized for the maximum DNS message.
var bufferPool = pool.New(func() *[]byte {
	buf := make([]byte, dns.PacketSizeMax)
	return &buf
})

// mDNS messages must fit a 9000-byte datagram (RFC 6762 Section 17).
const mdnsMaxDatagramSize = 9000

// Client moves packets for scopes: connectionless datagrams for queries
// and responses, TCP streams for truncation fallback. Sockets are opened
// lazily per scope; received packets are posted onto the event loop.
type Client struct {
	Loop *event.Loop
	Log  *slog.Logger

	mu    sync.Mutex
	conns map[*transaction.Scope]*net.UDPConn
}

// NewClient creates a client posting received packets to loop.
func NewClient(loop *event.Loop, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		Loop:  loop,
		Log:   log,
		conns: make(map[*transaction.Scope]*net.UDPConn),
	}
}

// SendDatagram emits p over UDP to dest on the scope's socket.
func (c *Client) SendDatagram(s *transaction.Scope, dest netip.AddrPort, p *dns.Packet) error {
	if s.Protocol == dns.ProtocolMDNS && p.Len() > mdnsMaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", transaction.ErrMessageSize, p.Len())
	}

	conn, err := c.conn(s)
	if err != nil {
		return err
	}
	_, err = conn.WriteToUDPAddrPort(p.Data(), dest)
	if err != nil {
		if errors.Is(err, unix.EMSGSIZE) {
			return fmt.Errorf("%w: %v", transaction.ErrMessageSize, err)
		}
		return err
	}
	return nil
}

// conn returns the scope's UDP socket, opening it and starting its read
// loop on first use.
func (c *Client) conn(s *transaction.Scope) (*net.UDPConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[s]; ok {
		return conn, nil
	}

	var conn *net.UDPConn
	var err error
	if s.Protocol == dns.ProtocolDNS {
		conn, err = listenUnicast(s.Family)
	} else {
		conn, err = listenMulticast(s)
	}
	if err != nil {
		return nil, err
	}

	c.conns[s] = conn
	go c.readLoop(s, conn)
	return conn, nil
}

// readLoop delivers received datagrams to the scope on the loop
// goroutine. It exits when the socket closes.
func (c *Client) readLoop(s *transaction.Scope, conn *net.UDPConn) {
	oob := make([]byte, 128)
	for {
		bufPtr := bufferPool.Get()
		buf := *bufPtr

		n, oobn, _, sender, err := conn.ReadMsgUDPAddrPort(buf, oob)
		if err != nil {
			bufferPool.Put(bufPtr)
			if !errors.Is(err, net.ErrClosed) {
				c.Log.Debug("udp read failed", "protocol", s.Protocol.String(), "err", err)
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		bufferPool.Put(bufPtr)

		p, err := dns.PacketFromWire(s.Protocol, data)
		if err != nil {
			continue
		}
		p.IPProto = dns.ProtoUDP
		p.Sender = sender
		p.IfIndex = s.IfIndex
		p.Family = familyOf(sender.Addr())
		if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			p.Destination = local.AddrPort()
		}
		// The multicast listeners are bound to the wildcard address, so the
		// socket's local address says nothing about which address the
		// datagram was actually sent to. LLMNR conflict resolution compares
		// sender against destination (RFC 4795 Section 4.1), so recover the
		// real destination from the pktinfo control message.
		if addr, ok := datagramDest(oob[:oobn]); ok {
			p.Destination = netip.AddrPortFrom(addr, p.Destination.Port())
		}
		p.Timestamp = time.Now()

		c.Loop.Post(func() { s.ProcessIncoming(p) })
	}
}

// Close shuts every socket; in-flight read loops drain out.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s, conn := range c.conns {
		_ = conn.Close()
		delete(c.conns, s)
	}
}

// datagramDest extracts the destination address of a received datagram
// from its IP_PKTINFO or IPV6_PKTINFO control message.
func datagramDest(oob []byte) (netip.Addr, bool) {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return netip.Addr{}, false
	}
	for _, scm := range scms {
		switch {
		case scm.Header.Level == unix.IPPROTO_IP && scm.Header.Type == unix.IP_PKTINFO && len(scm.Data) >= 12:
			// struct in_pktinfo: ifindex, spec_dst, then the address the
			// datagram was addressed to
			var a [4]byte
			copy(a[:], scm.Data[8:12])
			return netip.AddrFrom4(a), true
		case scm.Header.Level == unix.IPPROTO_IPV6 && scm.Header.Type == unix.IPV6_PKTINFO && len(scm.Data) >= 16:
			var a [16]byte
			copy(a[:], scm.Data[:16])
			return netip.AddrFrom16(a), true
		}
	}
	return netip.Addr{}, false
}

func familyOf(addr netip.Addr) dns.Family {
	if addr.Is4() || addr.Is4In6() {
		return dns.FamilyIPv4
	}
	if addr.Is6() {
		return dns.FamilyIPv6
	}
	return dns.FamilyUnspec
}

// listenUnicast opens an ephemeral-port UDP socket for upstream queries.
func listenUnicast(family dns.Family) (*net.UDPConn, error) {
	network := "udp"
	switch family {
	case dns.FamilyIPv4:
		network = "udp4"
	case dns.FamilyIPv6:
		network = "udp6"
	}
	return net.ListenUDP(network, nil)
}

// listenMulticast opens a socket bound to the scope's group port with
// SO_REUSEADDR and SO_REUSEPORT so we can share the well-known port with
// other responders on the host, then joins the group on the scope's
// interface (RFC 6762 Section 15, RFC 4795 Section 2.4).
func listenMulticast(s *transaction.Scope) (*net.UDPConn, error) {
	group, ok := s.Group()
	if !ok {
		return nil, transaction.ErrWrongProtocol
	}

	network := "udp4"
	if s.Family == dns.FamilyIPv6 {
		network = "udp6"
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctlErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					ctlErr = err
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					ctlErr = err
					return
				}
				// Ask the kernel for per-datagram destination addresses.
				if network == "udp6" {
					ctlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_RECVPKTINFO, 1)
					return
				}
				ctlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_PKTINFO, 1)
			})
			if err != nil {
				return err
			}
			return ctlErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), network, fmt.Sprintf(":%d", group.Port()))
	if err != nil {
		return nil, err
	}
	conn := pc.(*net.UDPConn)

	if err := joinGroup(conn, s, group.Addr()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// joinGroup subscribes the socket to the multicast group and sets the
// TTL/hop limit the link-local protocols require.
func joinGroup(conn *net.UDPConn, s *transaction.Scope, group netip.Addr) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var joinErr error
	err = raw.Control(func(fd uintptr) {
		if group.Is4() {
			mreq := &unix.IPMreqn{Ifindex: int32(s.IfIndex)}
			copy(mreq.Multiaddr[:], group.AsSlice())
			if err := unix.SetsockoptIPMreqn(int(fd), unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
				joinErr = err
				return
			}
			// LLMNR sends with TTL 255, mDNS with TTL 255 as well.
			joinErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, 255)
			return
		}
		mreq := &unix.IPv6Mreq{Interface: uint32(s.IfIndex)}
		copy(mreq.Multiaddr[:], group.AsSlice())
		if err := unix.SetsockoptIPv6Mreq(int(fd), unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq); err != nil {
			joinErr = err
			return
		}
		joinErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, 255)
	})
	if err != nil {
		return err
	}
	return joinErr
}
