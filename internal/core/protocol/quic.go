package protocol

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/aesync/aesync/internal/core/observability/log"
)

const (
	quicALPN          = "aesync-quic"
	quicSendQueueSize = 64
	quicMaxMessage    = 1 << 20
)

// QUICTransport carries reliable traffic on one bidirectional stream per
// connection and unreliable traffic as QUIC datagrams.
type QUICTransport struct {
	core transportCore

	mu       sync.Mutex
	listener *quic.Listener
	conns    map[ConnectionID]*quicConn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type quicConn struct {
	id     ConnectionID
	conn   *quic.Conn
	stream *quic.Stream
	sendQ  chan quicOutgoing
	closed chan struct{}
	once   sync.Once
}

type quicOutgoing struct {
	buf      *Buffer
	reliable bool
}

var _ Transport = (*QUICTransport)(nil)

func NewQUICTransport(lg log.Log) *QUICTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &QUICTransport{
		core:   newTransportCore(lg),
		conns:  make(map[ConnectionID]*quicConn),
		ctx:    ctx,
		cancel: cancel,
	}
	t.core.disconnect = t.Disconnect
	return t
}

func (t *QUICTransport) SetHandler(h Handler) {
	t.core.setHandler(h)
}

func (t *QUICTransport) Listen(addr string) error {
	if t.core.getState() != StateNone {
		return ErrTransportOpen
	}

	tlsConf, err := generateTLSConfig()
	if err != nil {
		return err
	}

	listener, err := quic.ListenAddr(addr, tlsConf, &quic.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  30 * time.Second,
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()
	t.core.setState(StateConnected)

	t.wg.Add(1)
	go t.acceptLoop(listener)
	return nil
}

func (t *QUICTransport) Dial(addr string) error {
	if t.core.getState() != StateNone {
		return ErrTransportOpen
	}
	t.core.setState(StateConnecting)

	conn, err := quic.DialAddr(t.ctx, addr, &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}, &quic.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  30 * time.Second,
	})
	if err != nil {
		t.core.setState(StateNone)
		return err
	}

	stream, err := conn.OpenStreamSync(t.ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		t.core.setState(StateNone)
		return err
	}

	// Zero-length hello so the server's AcceptStream completes immediately.
	if err = writeFrame(stream, nil); err != nil {
		_ = conn.CloseWithError(0, "hello failed")
		t.core.setState(StateNone)
		return err
	}

	t.core.setState(StateConnected)
	t.startConn(conn, stream)
	return nil
}

func (t *QUICTransport) acceptLoop(listener *quic.Listener) {
	defer t.wg.Done()

	for {
		conn, err := listener.Accept(t.ctx)
		if err != nil {
			return
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()

			stream, err := conn.AcceptStream(t.ctx)
			if err != nil {
				_ = conn.CloseWithError(0, "accept stream failed")
				return
			}
			t.startConn(conn, stream)
		}()
	}
}

func (t *QUICTransport) startConn(conn *quic.Conn, stream *quic.Stream) {
	qc := &quicConn{
		id:     newConnectionID(),
		conn:   conn,
		stream: stream,
		sendQ:  make(chan quicOutgoing, quicSendQueueSize),
		closed: make(chan struct{}),
	}

	t.mu.Lock()
	t.conns[qc.id] = qc
	t.mu.Unlock()

	t.core.pushJoin(qc.id)

	t.wg.Add(3)
	go t.readStream(qc)
	go t.readDatagrams(qc)
	go t.writeLoop(qc)
}

func (t *QUICTransport) readStream(qc *quicConn) {
	defer t.wg.Done()

	var header [4]byte
	for {
		if _, err := io.ReadFull(qc.stream, header[:]); err != nil {
			t.dropConn(qc)
			return
		}

		length := binary.LittleEndian.Uint32(header[:])
		if length == 0 {
			continue
		}
		if length > quicMaxMessage {
			t.core.log.Warn("oversized frame, dropping connection",
				log.String("connection", qc.id.String()),
				log.Uint32("length", length))
			t.dropConn(qc)
			return
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(qc.stream, payload); err != nil {
			t.dropConn(qc)
			return
		}
		t.core.pushMessage(qc.id, payload)
	}
}

func (t *QUICTransport) readDatagrams(qc *quicConn) {
	defer t.wg.Done()

	for {
		data, err := qc.conn.ReceiveDatagram(t.ctx)
		if err != nil {
			return
		}
		t.core.pushMessage(qc.id, data)
	}
}

func (t *QUICTransport) writeLoop(qc *quicConn) {
	defer t.wg.Done()

	for {
		select {
		case out := <-qc.sendQ:
			var err error
			if out.reliable {
				err = writeFrame(qc.stream, out.buf.Bytes())
			} else {
				// Datagram loss is the contract; only hard errors matter.
				err = qc.conn.SendDatagram(out.buf.Bytes())
			}
			out.buf.Release()

			if err != nil && out.reliable {
				t.dropConn(qc)
				return
			}
		case <-qc.closed:
			t.drainQueue(qc)
			return
		}
	}
}

func (t *QUICTransport) drainQueue(qc *quicConn) {
	for {
		select {
		case out := <-qc.sendQ:
			out.buf.Release()
		default:
			return
		}
	}
}

func writeFrame(stream *quic.Stream, payload []byte) error {
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := stream.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := stream.Write(payload)
	return err
}

func (t *QUICTransport) Send(except ConnectionID, buf *Buffer, broadcast, reliable bool) error {
	defer buf.Release()

	t.mu.Lock()
	targets := make([]*quicConn, 0, len(t.conns))
	if broadcast {
		for id, qc := range t.conns {
			if id == except {
				continue
			}
			targets = append(targets, qc)
		}
	} else {
		qc, ok := t.conns[except]
		if !ok {
			t.mu.Unlock()
			return ErrConnectionUnknown
		}
		targets = append(targets, qc)
	}
	t.mu.Unlock()

	for _, qc := range targets {
		buf.Retain()
		out := quicOutgoing{buf: buf, reliable: reliable}

		if reliable {
			select {
			case qc.sendQ <- out:
			case <-qc.closed:
				buf.Release()
			case <-t.ctx.Done():
				buf.Release()
			}
		} else {
			// Unreliable sends never block; a full queue is packet loss.
			select {
			case qc.sendQ <- out:
			default:
				buf.Release()
				if !broadcast {
					return ErrSendQueueFull
				}
			}
		}
	}
	return nil
}

func (t *QUICTransport) Update() {
	t.core.update()
}

func (t *QUICTransport) Disconnect(id ConnectionID) {
	t.mu.Lock()
	qc, ok := t.conns[id]
	t.mu.Unlock()
	if ok {
		t.dropConn(qc)
	}
}

func (t *QUICTransport) dropConn(qc *quicConn) {
	qc.once.Do(func() {
		t.mu.Lock()
		delete(t.conns, qc.id)
		t.mu.Unlock()

		close(qc.closed)
		_ = qc.conn.CloseWithError(0, "disconnect")
		t.core.pushLeave(qc.id)
	})
}

func (t *QUICTransport) AddWarning(id ConnectionID) {
	t.core.addWarning(id)
}

func (t *QUICTransport) Close() error {
	t.cancel()

	t.mu.Lock()
	listener := t.listener
	t.listener = nil
	conns := make([]*quicConn, 0, len(t.conns))
	for _, qc := range t.conns {
		conns = append(conns, qc)
	}
	t.mu.Unlock()

	for _, qc := range conns {
		t.dropConn(qc)
	}
	if listener != nil {
		_ = listener.Close()
	}

	t.core.setState(StateClosed)
	t.wg.Wait()
	return nil
}

func (t *QUICTransport) State() TransportState {
	return t.core.getState()
}

func (t *QUICTransport) ConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// generateTLSConfig builds a self-signed certificate for the QUIC listener.
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"aesync"},
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:    []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicALPN},
	}, nil
}
