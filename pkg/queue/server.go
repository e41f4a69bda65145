package queue

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sync"

	"github.com/cuemby/strata/pkg/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Handler executes one dispatched command and returns its completion code.
type Handler func(ctx context.Context, cmd types.Command) types.Result

// clientState tracks the per-connection status machine spec.md §4.8
// describes: a client is Idle until it enqueues a command, InProgress once
// a worker picks it up, and back to Idle once the reply is written.
type clientState int

const (
	stateIdle clientState = iota
	statePending
	stateInProgress
)

type connState struct {
	mu     sync.Mutex
	status clientState
	issued uint64 // next ticket to hand out, assigned in dispatch order

	writeMu sync.Mutex
	writeOK *sync.Cond // guarded by writeMu
	next    uint64     // next ticket allowed to write
}

func newConnState() *connState {
	st := &connState{}
	st.writeOK = sync.NewCond(&st.writeMu)
	return st
}

// Server is the single consumer multiplexing over many client connections:
// it accepts connections on a Unix domain socket, reads one fixed-size
// Command record at a time off each, and dispatches whichever arrives next
// to a bounded worker pool (spec.md §4.1 component 7 / §6's
// "dequeue_any" behavior).
type Server struct {
	sockPath       string
	maxParallelism int
	handler        Handler

	listener net.Listener
}

// NewServer binds a Unix domain socket at sockPath. Any stale socket file
// left behind by a previous run is removed first.
func NewServer(sockPath string, maxParallelism int, handler Handler) (*Server, error) {
	if maxParallelism <= 0 {
		maxParallelism = runtime.NumCPU()
	}
	_ = removeStaleSocket(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}
	return &Server{sockPath: sockPath, maxParallelism: maxParallelism, handler: handler, listener: ln}, nil
}

// Addr returns the socket path the server is bound to.
func (s *Server) Addr() string { return s.sockPath }

type workItem struct {
	conn   net.Conn
	cmd    types.Command
	st     *connState
	ticket uint64
}

// Run accepts connections and dispatches commands until ctx is canceled or
// the listener is closed. It returns nil on a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	workCh := make(chan workItem, 64)

	g.Go(func() error {
		<-ctx.Done()
		return s.listener.Close()
	})

	g.Go(func() error {
		defer close(workCh)
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			go s.readClient(ctx, conn, workCh)
		}
	})

	sem := make(chan struct{}, s.maxParallelism)
	g.Go(func() error {
		for item := range workCh {
			item := item
			sem <- struct{}{}
			go func() {
				defer func() { <-sem }()
				s.dispatch(ctx, item)
			}()
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) readClient(ctx context.Context, conn net.Conn, workCh chan<- workItem) {
	st := newConnState()
	defer conn.Close()
	for {
		cmd, err := ReadCommand(conn)
		if err != nil {
			return
		}
		st.mu.Lock()
		st.status = statePending
		ticket := st.issued
		st.issued++
		st.mu.Unlock()
		select {
		case workCh <- workItem{conn: conn, cmd: cmd, st: st, ticket: ticket}:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch executes one command and writes its result back over the
// owning connection. Commands from the same connection are dispatched to
// worker goroutines that run concurrently, so a later command can finish
// before an earlier one; each worker waits its ticket's turn on
// connState's write queue before writing, so replies still leave the
// connection in the order the client sent the commands, matching
// Client's documented guarantee.
func (s *Server) dispatch(ctx context.Context, item workItem) {
	item.st.mu.Lock()
	item.st.status = stateInProgress
	item.st.mu.Unlock()

	result := s.handler(ctx, item.cmd)

	item.st.writeMu.Lock()
	for item.st.next != item.ticket {
		item.st.writeOK.Wait()
	}
	if err := WriteResult(item.conn, result); err != nil {
		log.Debug().Err(err).Str("command", item.cmd.UniqueID).Msg("queue: failed to write result to client")
	}
	item.st.next++
	item.st.writeOK.Broadcast()
	item.st.writeMu.Unlock()

	item.st.mu.Lock()
	item.st.status = stateIdle
	item.st.mu.Unlock()
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}
