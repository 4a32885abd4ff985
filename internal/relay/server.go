package relay

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

const DefaultAddr = ":9595"

type Config struct {
	Addr   string
	Logger *logrus.Logger
}

// member is one connected peer. Writes are serialized per connection;
// forwarded signals arrive from the other member's goroutine.
type member struct {
	conn  net.Conn
	codec *Codec
	mu    sync.Mutex
}

func (m *member) send(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codec.Encode(msg)
}

// room pairs at most two members. Rooms are single-use: once a member
// leaves, the room is torn down.
type room struct {
	members []*member
}

func (r *room) other(m *member) *member {
	for _, candidate := range r.members {
		if candidate != m {
			return candidate
		}
	}
	return nil
}

// Server accepts relay connections and forwards signal blobs between
// the two members of each room.
type Server struct {
	config   Config
	logger   *logrus.Logger
	listener net.Listener

	mu    sync.Mutex
	rooms map[string]*room
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("relay: listen on %s: %w", cfg.Addr, err)
	}

	return &Server{
		config:   cfg,
		logger:   logger,
		listener: listener,
		rooms:    make(map[string]*room),
	}, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Shutdown() error {
	s.logger.Info("shutting down relay server")
	err := s.listener.Close()

	s.mu.Lock()
	for _, r := range s.rooms {
		for _, m := range r.members {
			_ = m.conn.Close()
		}
	}
	s.rooms = make(map[string]*room)
	s.mu.Unlock()

	return err
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("relay server started on %s", s.Addr())

	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	s.logger.Debugf("peer connected: %s", remoteAddr)

	m := &member{conn: conn, codec: NewCodec(conn)}
	var joinedRoom string

	defer func() {
		_ = conn.Close()
		if joinedRoom != "" {
			s.leave(joinedRoom, m)
		}
		s.logger.Debugf("peer disconnected: %s", remoteAddr)
	}()

	for {
		msg, err := m.codec.Decode()
		if err != nil {
			return
		}

		switch msg := msg.(type) {
		case *Join:
			if joinedRoom != "" {
				_ = m.send(&Error{Code: CodeInvalidMsg, Message: "already joined"})
				continue
			}
			if err := s.join(msg.Room, m); err != nil {
				s.logger.Warnf("join %q rejected: %v", msg.Room, err)
				_ = m.send(&Error{Code: CodeRoomFull, Message: err.Error()})
				return
			}
			joinedRoom = msg.Room
		case *Signal:
			if joinedRoom == "" {
				_ = m.send(&Error{Code: CodeInvalidMsg, Message: "join a room first"})
				continue
			}
			s.forward(joinedRoom, m, msg)
		default:
			s.logger.Warnf("unhandled message type: %s", msg.Type())
			_ = m.send(&Error{Code: CodeInvalidMsg, Message: "unexpected " + msg.Type().String()})
		}
	}
}

// join adds the member to the room, creating it on first use, and
// exchanges the presence notifications.
func (s *Server) join(name string, m *member) error {
	s.mu.Lock()
	r, ok := s.rooms[name]
	if !ok {
		r = &room{}
		s.rooms[name] = r
	}
	if len(r.members) >= 2 {
		s.mu.Unlock()
		return ErrRoomFull
	}
	r.members = append(r.members, m)
	peer := r.other(m)
	count := len(r.members)
	s.mu.Unlock()

	s.logger.WithField("room", name).Infof("peer joined (%d/2)", count)

	if err := m.send(&Joined{PeerPresent: peer != nil}); err != nil {
		return nil
	}
	if peer != nil {
		_ = peer.send(&PeerJoined{})
	}
	return nil
}

func (s *Server) forward(name string, from *member, sig *Signal) {
	s.mu.Lock()
	r, ok := s.rooms[name]
	var peer *member
	if ok {
		peer = r.other(from)
	}
	s.mu.Unlock()

	if peer == nil {
		s.logger.WithField("room", name).Debug("signal with no peer to forward to")
		return
	}
	if err := peer.send(sig); err != nil {
		s.logger.WithField("room", name).Warnf("forward %s failed: %v", sig.Kind, err)
	}
}

// leave tears the room down and notifies the remaining member.
func (s *Server) leave(name string, m *member) {
	s.mu.Lock()
	r, ok := s.rooms[name]
	var peer *member
	if ok {
		peer = r.other(m)
		delete(s.rooms, name)
	}
	s.mu.Unlock()

	if peer != nil {
		_ = peer.send(&PeerLeft{})
	}
	s.logger.WithField("room", name).Debug("room closed")
}
