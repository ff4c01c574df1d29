// Package sshtest runs an in-process SSH server that behaves like a small
// ev3dev device: password and keyboard-interactive auth, an in-memory SFTP
// filesystem, scripted exec commands and echoing PTY shells.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Question is one keyboard-interactive prompt.
type Question struct {
	Text string
	Echo bool
}

// ExecFunc serves one exec request and returns its exit status.
type ExecFunc func(stdout, stderr io.Writer) uint32

// Options configures a Server.
type Options struct {
	User     string // default "robot"
	Password string // Accepted password; empty disables password auth

	// Rounds enables keyboard-interactive auth. Each round is sent as one
	// challenge; Answers must match the flattened questions in order.
	Rounds  [][]Question
	Answers []string

	Home   string // Created before serving, default /home/<user>
	NoHome bool   // Skip creating the home directory
	NoSFTP bool   // Refuse the sftp subsystem

	AcceptEnv bool // Accept env requests (OpenSSH refuses them by default)

	// Exec maps a command suffix to its handler. Unknown commands exit 127.
	Exec map[string]ExecFunc
}

// PTY is a recorded pty-req.
type PTY struct {
	Term string
	Rows int
	Cols int
}

// Server is a test SSH server listening on 127.0.0.1.
type Server struct {
	opts     Options
	config   *ssh.ServerConfig
	ln       net.Listener
	handlers sftp.Handlers

	mu           sync.Mutex
	conns        []net.Conn
	commands     []string
	ptys         []PTY
	resizes      []PTY
	env          map[string]string
	activeShells int
	openedShells int

	wg sync.WaitGroup
}

// NewServer starts a server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()

	s, err := Start(opts)
	if err != nil {
		t.Fatalf("start ssh test server: %v", err)
	}

	t.Cleanup(s.Close)

	return s
}

// Start starts a server. Callers must Close it.
func Start(opts Options) (*Server, error) {
	if opts.User == "" {
		opts.User = "robot"
	}

	if opts.Home == "" {
		opts.Home = "/home/" + opts.User
	}

	s := &Server{
		opts:     opts,
		handlers: sftp.InMemHandler(),
		env:      make(map[string]string),
	}

	if !opts.NoHome {
		if err := s.MkdirAll(opts.Home); err != nil {
			return nil, err
		}
	}

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}

	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		return nil, fmt.Errorf("create host signer: %w", err)
	}

	s.config = &ssh.ServerConfig{}
	s.config.AddHostKey(hostSigner)

	if opts.Password != "" {
		s.config.PasswordCallback = s.checkPassword
	}

	if len(opts.Rounds) > 0 {
		s.config.KeyboardInteractiveCallback = s.challenge
	}

	s.ln, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s.wg.Add(1)

	go s.serve()

	return s, nil
}

// Addr is the host:port the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Host is the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())

	return host
}

// Port is the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)

	return n
}

// Close stops the listener and drops every connection.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

// DropConnections closes every accepted connection, as if the device vanished.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// MkdirAll creates a directory tree in the in-memory filesystem.
func (s *Server) MkdirAll(p string) error {
	acc := ""

	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if seg == "" {
			continue
		}

		acc += "/" + seg

		if _, err := s.handlers.FileList.Filelist(sftp.NewRequest("Stat", acc)); err == nil {
			continue
		}

		if err := s.handlers.FileCmd.Filecmd(sftp.NewRequest("Mkdir", acc)); err != nil {
			return fmt.Errorf("mkdir %s: %w", acc, err)
		}
	}

	return nil
}

// Commands returns the exec requests received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.commands...)
}

// PTYs returns the pty requests received so far.
func (s *Server) PTYs() []PTY {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]PTY(nil), s.ptys...)
}

// Resizes returns the window-change requests received so far.
func (s *Server) Resizes() []PTY {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]PTY(nil), s.resizes...)
}

// Env returns the env requests received so far.
func (s *Server) Env() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.env))
	for k, v := range s.env {
		out[k] = v
	}

	return out
}

// ActiveShells is the number of shell channels currently open.
func (s *Server) ActiveShells() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.activeShells
}

// OpenedShells is the number of shell channels ever opened.
func (s *Server) OpenedShells() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.openedShells
}

func (s *Server) checkPassword(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	if c.User() == s.opts.User && string(password) == s.opts.Password {
		return &ssh.Permissions{}, nil
	}

	return nil, errors.New("password rejected")
}

func (s *Server) challenge(c ssh.ConnMetadata, client ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
	var answers []string

	for i, round := range s.opts.Rounds {
		questions := make([]string, len(round))
		echos := make([]bool, len(round))

		for j, q := range round {
			questions[j] = q.Text
			echos[j] = q.Echo
		}

		got, err := client(c.User(), fmt.Sprintf("round %d", i+1), questions, echos)
		if err != nil {
			return nil, err
		}

		answers = append(answers, got...)
	}

	if c.User() != s.opts.User || len(answers) != len(s.opts.Answers) {
		return nil, errors.New("challenge failed")
	}

	for i := range answers {
		if answers[i] != s.opts.Answers[i] {
			return nil, errors.New("challenge failed")
		}
	}

	return &ssh.Permissions{}, nil
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)

		go func() {
			defer s.wg.Done()

			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	defer func() { _ = netConn.Close() }()

	srvConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}

	defer func() { _ = srvConn.Close() }()

	go ssh.DiscardRequests(reqs)

	var sessions sync.WaitGroup

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")

			continue
		}

		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}

		sessions.Add(1)

		go func() {
			defer sessions.Done()

			s.handleSession(ch, requests)
		}()
	}

	sessions.Wait()
}

func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer func() { _ = ch.Close() }()

	for req := range reqs {
		switch req.Type {
		case "pty-req":
			var msg struct {
				Term   string
				Cols   uint32
				Rows   uint32
				Width  uint32
				Height uint32
				Modes  string
			}

			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				_ = req.Reply(false, nil)

				continue
			}

			s.mu.Lock()
			s.ptys = append(s.ptys, PTY{Term: msg.Term, Rows: int(msg.Rows), Cols: int(msg.Cols)})
			s.mu.Unlock()

			_ = req.Reply(true, nil)

		case "window-change":
			var msg struct {
				Cols   uint32
				Rows   uint32
				Width  uint32
				Height uint32
			}

			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				s.mu.Lock()
				s.resizes = append(s.resizes, PTY{Rows: int(msg.Rows), Cols: int(msg.Cols)})
				s.mu.Unlock()
			}

			if req.WantReply {
				_ = req.Reply(true, nil)
			}

		case "env":
			var msg struct {
				Name  string
				Value string
			}

			if err := ssh.Unmarshal(req.Payload, &msg); err == nil && s.opts.AcceptEnv {
				s.mu.Lock()
				s.env[msg.Name] = msg.Value
				s.mu.Unlock()

				_ = req.Reply(true, nil)

				continue
			}

			_ = req.Reply(false, nil)

		case "subsystem":
			var msg struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil || msg.Name != "sftp" || s.opts.NoSFTP {
				_ = req.Reply(false, nil)

				continue
			}

			_ = req.Reply(true, nil)

			go ssh.DiscardRequests(reqs)

			server := sftp.NewRequestServer(ch, s.handlers)
			_ = server.Serve()
			_ = server.Close()

			return

		case "exec":
			var msg struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				_ = req.Reply(false, nil)

				continue
			}

			_ = req.Reply(true, nil)

			go ssh.DiscardRequests(reqs)

			s.runExec(ch, msg.Command)

			return

		case "shell":
			_ = req.Reply(true, nil)

			s.runShell(ch, reqs)

			return

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) runExec(ch ssh.Channel, command string) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()

	status := uint32(127)

	for suffix, fn := range s.opts.Exec {
		if strings.HasSuffix(command, suffix) {
			status = fn(ch, ch.Stderr())

			break
		}
	}

	sendExitStatus(ch, status)
}

// runShell echoes input back until the client closes its side. Further
// requests (window-change) keep being served while the shell runs.
func (s *Server) runShell(ch ssh.Channel, reqs <-chan *ssh.Request) {
	s.mu.Lock()
	s.activeShells++
	s.openedShells++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.activeShells--
		s.mu.Unlock()
	}()

	go func() {
		for req := range reqs {
			if req.Type == "window-change" {
				var msg struct {
					Cols   uint32
					Rows   uint32
					Width  uint32
					Height uint32
				}

				if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
					s.mu.Lock()
					s.resizes = append(s.resizes, PTY{Rows: int(msg.Rows), Cols: int(msg.Cols)})
					s.mu.Unlock()
				}
			}

			if req.WantReply {
				_ = req.Reply(req.Type == "window-change", nil)
			}
		}
	}()

	buf := make([]byte, 4096)

	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if string(buf[:n]) == "exit\n" {
				sendExitStatus(ch, 0)

				return
			}

			if _, werr := ch.Write(buf[:n]); werr != nil {
				return
			}
		}

		if err != nil {
			return
		}
	}
}

func sendExitStatus(ch ssh.Channel, status uint32) {
	payload := ssh.Marshal(struct{ Status uint32 }{status})
	_, _ = ch.SendRequest("exit-status", false, payload)
}
