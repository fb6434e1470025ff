package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"personamux/internal/artifact"
	"personamux/internal/assistant"
	"personamux/internal/logging"
	"personamux/internal/persona"
)

const maxRequestLine = 1 << 20

// ServerOptions configure a broker server.
type ServerOptions struct {
	SocketPath         string
	PIDFile            string
	RepoRoot           string
	AssistantConfigDir string
	Assistant          *assistant.Runner
	Artifacts          *artifact.Files
	Logger             *logging.Logger
}

// Server owns the only live handle to the external assistant and
// guarantees at most one concurrent invocation system-wide. Ping and
// info are answered concurrently on the accept path; prompt requests
// funnel through one mutex.
type Server struct {
	options  ServerOptions
	listener net.Listener
	logger   *logging.Logger

	promptMu sync.Mutex
	inFlight sync.WaitGroup

	closeOnce sync.Once
}

// ErrAlreadyRunning is returned when another broker answers ping on
// the same socket. Two brokers would corrupt one assistant session.
var ErrAlreadyRunning = errors.New("broker already running")

func NewServer(options ServerOptions) *Server {
	return &Server{options: options, logger: options.Logger}
}

// Listen binds the socket. It refuses to bind when a live broker
// already answers on the path and removes a stale endpoint otherwise.
func (s *Server) Listen() error {
	if Ping(s.options.SocketPath, 200*time.Millisecond) {
		return fmt.Errorf("%w at %s", ErrAlreadyRunning, s.options.SocketPath)
	}
	if err := os.Remove(s.options.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket %s: %w", s.options.SocketPath, err)
	}

	listener, err := net.Listen("unix", s.options.SocketPath)
	if err != nil {
		return fmt.Errorf("bind broker socket %s: %w", s.options.SocketPath, err)
	}
	s.listener = listener

	if s.options.PIDFile != "" {
		pid := strconv.Itoa(os.Getpid()) + "\n"
		if err := os.WriteFile(s.options.PIDFile, []byte(pid), 0o644); err != nil {
			listener.Close()
			os.Remove(s.options.SocketPath)
			return fmt.Errorf("write pid file %s: %w", s.options.PIDFile, err)
		}
	}
	return nil
}

// Serve accepts connections until ctx is canceled, then finishes any
// in-flight invocation and removes the socket and pid file.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("broker server not listening")
	}

	go func() {
		<-ctx.Done()
		s.closeListener()
	}()

	s.logInfo("broker listening", map[string]string{"socket": s.options.SocketPath})

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logWarn("accept failed", map[string]string{"error": err.Error()})
			continue
		}
		s.inFlight.Add(1)
		go func() {
			defer s.inFlight.Done()
			s.handle(ctx, conn)
		}()
	}

	s.inFlight.Wait()
	s.cleanup()
	s.logInfo("broker stopped", nil)
	return nil
}

func (s *Server) closeListener() {
	s.closeOnce.Do(func() {
		if s.listener != nil {
			s.listener.Close()
		}
	})
}

func (s *Server) cleanup() {
	if err := os.Remove(s.options.SocketPath); err != nil && !os.IsNotExist(err) {
		s.logWarn("remove socket failed", map[string]string{"error": err.Error()})
	}
	if s.options.PIDFile != "" {
		if err := os.Remove(s.options.PIDFile); err != nil && !os.IsNotExist(err) {
			s.logWarn("remove pid file failed", map[string]string{"error": err.Error()})
		}
	}
}

// handle serves exactly one request/response pair, then closes.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := readLine(reader, maxRequestLine)
	if err != nil && line == "" {
		return
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if !json.Valid([]byte(line)) {
		s.respond(conn, errorResponse(ErrInvalidJSON))
		return
	}
	if !strings.HasPrefix(line, "{") {
		s.respond(conn, errorResponse(ErrInvalidRequest))
		return
	}
	var request Request
	if err := json.Unmarshal([]byte(line), &request); err != nil {
		s.respond(conn, errorResponse(ErrInvalidRequest))
		return
	}

	switch request.Kind {
	case KindPing:
		s.respond(conn, Response{OK: true, Kind: "pong"})
	case KindInfo:
		s.respond(conn, Response{
			OK:                 true,
			Kind:               "info",
			RepoRoot:           s.options.RepoRoot,
			AssistantConfigDir: s.options.AssistantConfigDir,
		})
	case KindPrompt:
		// Shutdown cancels ctx to stop the accept loop; a running
		// invocation must still finish, so the subprocess never sees
		// that cancellation.
		s.respond(conn, s.handlePrompt(context.WithoutCancel(ctx), request))
	default:
		s.respond(conn, errorResponse(ErrUnknownKind))
	}
}

// handlePrompt is the serialized path: one invocation at a time,
// system-wide.
func (s *Server) handlePrompt(ctx context.Context, request Request) Response {
	if strings.TrimSpace(request.Prompt) == "" {
		return errorResponse(ErrEmptyPrompt)
	}

	s.promptMu.Lock()
	defer s.promptMu.Unlock()

	result, err := s.options.Assistant.Run(ctx, request.Prompt)
	if err != nil {
		s.logWarn("assistant invocation failed", map[string]string{"error": err.Error()})
		return Response{OK: true, ExitCode: -1, Output: err.Error()}
	}

	if result.ExitCode == 0 && request.Persona != "" && s.options.Artifacts != nil {
		if err := s.options.Artifacts.Write(persona.Key(request.Persona), result.Output, request.RequestID); err != nil {
			s.logWarn("write response artifact failed", map[string]string{
				"persona": request.Persona,
				"error":   err.Error(),
			})
		}
	}

	return Response{OK: true, ExitCode: result.ExitCode, Output: result.Output}
}

func (s *Server) respond(conn net.Conn, response Response) {
	raw, err := json.Marshal(response)
	if err != nil {
		return
	}
	raw = append(raw, '\n')
	_, _ = conn.Write(raw)
}

func (s *Server) logInfo(message string, fields map[string]string) {
	if s.logger != nil {
		s.logger.Info(message, fields)
	}
}

func (s *Server) logWarn(message string, fields map[string]string) {
	if s.logger != nil {
		s.logger.Warn(message, fields)
	}
}

// readLine reads one request line, failing as soon as more than limit
// bytes arrive without a newline. The cap bounds memory even when the
// peer never terminates the line.
func readLine(reader *bufio.Reader, limit int) (string, error) {
	var buffer []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		buffer = append(buffer, chunk...)
		if len(buffer) > limit {
			return "", errors.New("request line too long")
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(buffer), err
	}
}
