package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	readBufferSize = 2048
	tcpReadTimeout = 30 * time.Second
)

// Server owns the ingestion listeners: a TCP acceptor, a UDP socket, and an
// optional bus subscription. All three feed the same pipeline through the
// worker pool.
type Server struct {
	host    string
	tcpPort string
	udpPort string
	topic   string

	pipeline *Pipeline
	pool     *Pool
	nc       *nats.Conn
	log      *slog.Logger

	tcpLn   net.Listener
	udpConn *net.UDPConn
	sub     *nats.Subscription

	mu       sync.Mutex
	sessions map[string]*Session // keyed by peer address, shared across transports
	conns    map[net.Conn]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

func NewServer(host, tcpPort, udpPort, topic string, pipeline *Pipeline, pool *Pool, nc *nats.Conn, log *slog.Logger) *Server {
	return &Server{
		host:     host,
		tcpPort:  tcpPort,
		udpPort:  udpPort,
		topic:    topic,
		pipeline: pipeline,
		pool:     pool,
		nc:       nc,
		log:      log.With("component", "ingest_server"),
		sessions: make(map[string]*Session),
		conns:    make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Server) Start() error {
	if err := s.startTCP(); err != nil {
		return err
	}
	if err := s.startUDP(); err != nil {
		s.tcpLn.Close()
		return err
	}
	if err := s.startBus(); err != nil {
		s.tcpLn.Close()
		s.udpConn.Close()
		return err
	}
	return nil
}

func (s *Server) startTCP() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, s.tcpPort))
	if err != nil {
		return fmt.Errorf("tcp listen: %w", err)
	}
	s.tcpLn = ln
	s.log.Info("tcp listener started", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.tcpLn.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		c := conn
		if !s.pool.Submit(func() { s.handleConn(c) }) {
			s.log.Warn("worker queue full, dropping connection", "source", sourceHost(c.RemoteAddr()))
			c.Close()
		}
	}
}

// handleConn serves exactly one frame: read with a deadline, process inline so
// the protocol reply goes out before the socket closes, then hang up. Devices
// reconnect for every report; identity carried over from a login frame lives
// in the per-peer session, not the connection.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	source := sourceHost(conn.RemoteAddr())
	buf := make([]byte, readBufferSize)

	conn.SetReadDeadline(time.Now().Add(tcpReadTimeout))
	n, err := conn.Read(buf)
	if err != nil {
		s.log.Debug("connection closed before a frame arrived", "source", source, "error", err)
		return
	}
	if n == 0 {
		return
	}

	data := make([]byte, n)
	copy(data, buf[:n])
	s.pipeline.Process(&Frame{
		Source:    source,
		Transport: "tcp",
		Data:      data,
		Session:   s.session(source),
		Reply: func(reply []byte) error {
			_, werr := conn.Write(reply)
			return werr
		},
	})
}

// sourceHost strips the ephemeral port so the gate, the denylist, and the
// session map all key on the peer address itself.
func sourceHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *Server) startUDP() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.host, s.udpPort))
	if err != nil {
		return fmt.Errorf("udp resolve: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("udp listen: %w", err)
	}
	s.udpConn = conn
	s.log.Info("udp listener started", "addr", conn.LocalAddr().String())

	s.wg.Add(1)
	go s.udpLoop()
	return nil
}

func (s *Server) udpLoop() {
	defer s.wg.Done()
	buf := make([]byte, readBufferSize)

	for {
		n, remote, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("udp read failed", "error", err)
			continue
		}
		if n == 0 {
			continue
		}

		source := remote.IP.String()
		data := make([]byte, n)
		copy(data, buf[:n])
		remoteAddr := remote
		frame := &Frame{
			Source:    source,
			Transport: "udp",
			Data:      data,
			Session:   s.session(source),
			Reply: func(reply []byte) error {
				_, werr := s.udpConn.WriteToUDP(reply, remoteAddr)
				return werr
			},
		}
		s.pool.Submit(func() { s.pipeline.Process(frame) })
	}
}

// session keeps one identity binding per peer address, so terminals that log
// in on one connection or datagram and report on the next still attribute.
func (s *Server) session(source string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[source]
	if !ok {
		session = &Session{}
		s.sessions[source] = session
	}
	return session
}

func (s *Server) startBus() error {
	if s.nc == nil {
		s.log.Info("bus not configured, skipping subscription")
		return nil
	}

	sub, err := s.nc.Subscribe(s.topic, func(msg *nats.Msg) {
		data := make([]byte, len(msg.Data))
		copy(data, msg.Data)
		frame := &Frame{
			Source:    "bus:" + msg.Subject,
			Transport: "bus",
			Data:      data,
		}
		s.pool.Submit(func() { s.pipeline.Process(frame) })
	})
	if err != nil {
		return fmt.Errorf("bus subscribe: %w", err)
	}
	s.sub = sub
	s.log.Info("bus subscription started", "topic", s.topic)
	return nil
}

// Stop closes the listeners and drains the worker pool.
func (s *Server) Stop() {
	close(s.done)
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.tcpLn != nil {
		s.tcpLn.Close()
	}
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.pool.Close()
	s.log.Info("ingest server stopped")
}
