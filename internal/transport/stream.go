package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/pool"
	"github.com/jroosing/lernadns/internal/transaction"
)

// lenBufPool holds the 2-byte length prefix buffers for DNS-over-TCP
// framing (RFC 1035 Section 4.2.2).
var lenBufPool = pool.New(func() *[]byte {
	buf := make([]byte, 2)
	return &buf
})

const (
	streamDialTimeout  = 5 * time.Second
	streamReadTimeout  = 10 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// stream is one outbound TCP exchange: connect, write the framed query,
// read the framed reply, deliver it on the event loop.
type stream struct {
	client *Client
	conn   net.Conn
	closed atomic.Bool
}

// OpenStream connects to dest, sends p and later calls done with the
// reply on the loop goroutine. Closing the stream suppresses done.
func (c *Client) OpenStream(s *transaction.Scope, dest netip.AddrPort, p *dns.Packet, done func(*dns.Packet, error)) (transaction.Stream, error) {
	conn, err := net.DialTimeout("tcp", dest.String(), streamDialTimeout)
	if err != nil {
		return nil, err
	}

	st := &stream{client: c, conn: conn}
	go st.exchange(s, dest, p, done)
	return st, nil
}

func (st *stream) exchange(s *transaction.Scope, dest netip.AddrPort, query *dns.Packet, done func(*dns.Packet, error)) {
	defer st.conn.Close()

	reply, err := st.roundTrip(s, dest, query)
	if st.closed.Load() {
		return
	}
	st.client.Loop.Post(func() {
		if st.closed.Load() {
			return
		}
		done(reply, err)
	})
}

func (st *stream) roundTrip(s *transaction.Scope, dest netip.AddrPort, query *dns.Packet) (*dns.Packet, error) {
	if err := writeMessage(st.conn, query.Data()); err != nil {
		return nil, err
	}

	wire, err := readMessage(st.conn)
	if err != nil {
		return nil, err
	}

	p, err := dns.PacketFromWire(s.Protocol, wire)
	if err != nil {
		return nil, err
	}
	p.IPProto = dns.ProtoTCP
	p.Sender = dest
	p.IfIndex = s.IfIndex
	p.Family = familyOf(dest.Addr())
	if local, ok := st.conn.LocalAddr().(*net.TCPAddr); ok {
		p.Destination = local.AddrPort()
	}
	p.Timestamp = time.Now()
	return p, nil
}

// Close abandons the exchange. A reply racing the close is dropped.
func (st *stream) Close() {
	st.closed.Store(true)
	_ = st.conn.Close()
}

// writeMessage writes a length-prefixed DNS message using writev to
// avoid a combined allocation.
func writeMessage(conn net.Conn, msg []byte) error {
	if len(msg) > dns.PacketSizeMax {
		return fmt.Errorf("message too large for stream: %d bytes", len(msg))
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))

	lenBufPtr := lenBufPool.Get()
	lenBuf := *lenBufPtr
	binary.BigEndian.PutUint16(lenBuf, uint16(len(msg)))

	bufs := net.Buffers{lenBuf, msg}
	_, err := bufs.WriteTo(conn)

	lenBufPool.Put(lenBufPtr)
	return err
}

// readMessage reads one length-prefixed DNS message.
func readMessage(conn net.Conn) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

	lenBufPtr := lenBufPool.Get()
	lenBuf := *lenBufPtr
	_, err := io.ReadFull(conn, lenBuf)
	msgLen := int(binary.BigEndian.Uint16(lenBuf))
	lenBufPool.Put(lenBufPtr)
	if err != nil {
		return nil, err
	}
	if msgLen == 0 {
		return nil, fmt.Errorf("empty stream message")
	}

	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(conn, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
