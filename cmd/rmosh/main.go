/*
 * nosshtradamus: predictive terminal emulation for SSH
 * Copyright 2019-2023 Daniel Selifonov
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command rmosh is the client half of a roaming, low-latency remote shell:
// it bootstraps a mosh-server over SSH (or attaches directly, given
// MOSH_KEY), then drives a UDP state-synchronization session with
// predictive local echo, rendering to the local terminal.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"rmosh/internal/bootstrap"
	"rmosh/internal/cryptosess"
	"rmosh/internal/prediction"
	"rmosh/internal/renderer"
	"rmosh/internal/term"
	"rmosh/internal/transport"
)

// commandEscapeByte is the mosh command-mode prefix, Ctrl-^, matching
// upstream mosh's ESCAPE_KEY default.
const commandEscapeByte byte = 0x1E

// tickInterval drives both the transport's Tick and the local render, 60
// times a second.
const tickInterval = time.Second / 60

// staleConnectionNotice is how long without any datagram from the server
// before the status bar starts reporting elapsed silence.
const staleConnectionNotice = 15 * time.Second

// arrayFlags collects repeated occurrences of a flag, e.g. "-i" for
// multiple identity files.
type arrayFlags []string

func (*arrayFlags) String() string      { return "" }
func (af *arrayFlags) Set(v string) error { *af = append(*af, v); return nil }

type cliConfig struct {
	host       string
	sshPort    int
	identities arrayFlags
	noAgent    bool
	serverCmd  string
	predict    string
	direct     string
	verbose    bool
	fakeDelay  time.Duration
}

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(argv []string) int {
	cfg, err := parseArgs(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rmosh:", err)
		return 2
	}

	if cfg.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	mode, err := parsePredictionMode(cfg.predict)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rmosh:", err)
		return 2
	}

	addr, key, err := resolveEndpoint(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rmosh:", err)
		return 2
	}

	if err := run(addr, key, mode, cfg.fakeDelay); err != nil {
		fmt.Fprintln(os.Stderr, "rmosh:", err)
		return 1
	}
	return 0
}

func parseArgs(argv []string) (cliConfig, error) {
	var cfg cliConfig
	fs := flag.NewFlagSet("rmosh", flag.ContinueOnError)
	fs.IntVar(&cfg.sshPort, "p", 22, "SSH port used for bootstrap")
	fs.Var(&cfg.identities, "i", "SSH identity file (repeatable)")
	fs.BoolVar(&cfg.noAgent, "a", false, "disable use of the SSH agent for key-based auth")
	fs.StringVar(&cfg.serverCmd, "s", "mosh-server", "remote mosh-server command")
	fs.StringVar(&cfg.predict, "predict", "adaptive", "prediction mode: always, adaptive, never")
	fs.StringVar(&cfg.direct, "addr", "", "connect directly to host:port, skipping SSH bootstrap (requires MOSH_KEY)")
	fs.BoolVar(&cfg.verbose, "v", false, "enable verbose logging")
	fs.DurationVar(&cfg.fakeDelay, "fakeDelay", 0, "artificial one-way latency added to outgoing datagrams, for testing")
	if err := fs.Parse(argv); err != nil {
		return cfg, err
	}

	if cfg.direct == "" {
		if fs.NArg() != 1 {
			fs.Usage()
			return cfg, errors.New("expected a single [user@]host argument")
		}
		cfg.host = fs.Arg(0)
	}
	return cfg, nil
}

func parsePredictionMode(s string) (prediction.Mode, error) {
	switch strings.ToLower(s) {
	case "always":
		return prediction.ModeAlways, nil
	case "never":
		return prediction.ModeNever, nil
	case "adaptive", "":
		return prediction.ModeAdaptive, nil
	default:
		return 0, fmt.Errorf("unrecognized -predict mode %q", s)
	}
}

// parseUserHost splits "[user@]host" into its parts, defaulting to the
// invoking user when no "user@" prefix is present.
func parseUserHost(s string) (user, host string) {
	if at := strings.IndexByte(s, '@'); at >= 0 {
		return s[:at], s[at+1:]
	}
	if u := os.Getenv("USER"); u != "" {
		return u, s
	}
	return "root", s
}

// resolveEndpoint produces the UDP address and session key to connect to,
// either by reading MOSH_KEY for a direct connection or by bootstrapping a
// mosh-server over SSH.
func resolveEndpoint(cfg cliConfig) (addr string, key cryptosess.Key, err error) {
	if cfg.direct != "" {
		keyStr, ok := os.LookupEnv("MOSH_KEY")
		if !ok {
			return "", key, errors.New("MOSH_KEY must be set for -addr direct connections")
		}
		os.Unsetenv("MOSH_KEY")
		key, err = cryptosess.ParseKey(keyStr)
		if err != nil {
			return "", key, fmt.Errorf("MOSH_KEY: %w", err)
		}
		return cfg.direct, key, nil
	}

	user, host := parseUserHost(cfg.host)
	bcfg := bootstrap.DefaultConfig(host, user)
	bcfg.Port = cfg.sshPort
	bcfg.Identities = cfg.identities
	bcfg.DisableAgent = cfg.noAgent
	if cfg.serverCmd != "" {
		bcfg.ServerCommand = cfg.serverCmd
	}

	fmt.Fprintf(os.Stderr, "rmosh: connecting to %s via SSH...\n", host)
	result, err := bootstrap.Dial(bcfg)
	if err != nil {
		return "", key, err
	}
	fmt.Fprintf(os.Stderr, "rmosh: mosh-server started on port %d, establishing UDP session...\n", result.Port)
	return net.JoinHostPort(result.RemoteIP, strconv.Itoa(result.Port)), result.Key, nil
}

// session bundles the state a single run of the event loop threads through
// its select cases.
type session struct {
	conn io.ReadWriteCloser
	tr   *transport.Transport
	pred *prediction.Engine
	rend *renderer.Renderer

	width, height int
	stdinFD       int

	commandPending bool
}

// stdoutBufferCapacity bounds how far terminal output may get ahead of a
// slow local tty before Render blocks, via the asyncStdout wrapper in
// asyncio.go.
const stdoutBufferCapacity = 1 << 16

// fakeDelayRingSize bounds how many outgoing datagrams -fakeDelay may hold
// in flight at once.
const fakeDelayRingSize = 512

func run(addr string, key cryptosess.Key, mode prediction.Mode, fakeDelay time.Duration) error {
	stdinFD := int(os.Stdin.Fd())
	width, height, err := renderer.WindowSize(stdinFD)
	if err != nil {
		width, height = 80, 24
	}

	rawState, err := renderer.Init(stdinFD)
	if err != nil {
		return fmt.Errorf("entering raw mode: %w", err)
	}
	defer renderer.Cleanup(stdinFD, rawState)

	udpConn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	logrus.Debugf("rmosh: udp socket to %s open, terminal %dx%d, predict=%v", addr, width, height, mode)
	var conn io.ReadWriteCloser = udpConn
	if fakeDelay > 0 {
		logrus.Debugf("rmosh: simulating %s of one-way latency on outgoing datagrams", fakeDelay)
		conn = newDelayedSocket(udpConn, fakeDelay, fakeDelayRingSize)
	}
	defer conn.Close()

	tr, err := transport.New(key, width, height, time.Now(), func(b []byte) error {
		_, err := conn.Write(b)
		return err
	})
	if err != nil {
		return err
	}

	out := newAsyncStdout(os.Stdout, stdoutBufferCapacity)
	defer out.Close()

	s := &session{
		conn:    conn,
		tr:      tr,
		pred:    prediction.New(mode, width, height, true),
		rend:    renderer.New(out, width, height),
		width:   width,
		height:  height,
		stdinFD: stdinFD,
	}
	s.rend.SetMessage("mosh: Connecting...")
	tr.PushResize(int32(width), int32(height))

	return s.loop()
}

type udpResult struct {
	data []byte
	err  error
}

func (s *session) loop() error {
	udpCh := make(chan udpResult, 16)
	go func() {
		buf := make([]byte, 65536)
		for {
			n, err := s.conn.Read(buf)
			if err != nil {
				udpCh <- udpResult{err: err}
				return
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			udpCh <- udpResult{data: cp}
		}
	}()

	stdinCh := make(chan []byte, 16)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				cp := make([]byte, n)
				copy(cp, buf[:n])
				stdinCh <- cp
			}
			if err != nil {
				close(stdinCh)
				return
			}
		}
	}()

	resizeCh := make(chan os.Signal, 1)
	signal.Notify(resizeCh, syscall.SIGWINCH)
	defer signal.Stop(resizeCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-udpCh:
			if res.err != nil {
				if transport.IsRemoteClose(res.err) {
					logrus.Debugf("rmosh: remote closed the udp socket: %v", res.err)
					s.rend.SetMessage(s.tr.RemoteCloseMessage(res.err))
					_ = s.rend.Render(s.composeFrame())
					return nil
				}
				return res.err
			}
			if err := s.tr.ProcessDatagram(res.data, time.Now()); err != nil {
				return err
			}
			if s.tr.ConsumeRemoteStateChanged() {
				s.rend.SetMessage("")
			}
			s.pred.ServerAck(s.tr.RemoteState().EchoAck())
			s.pred.SetLocalFrameAcked(s.tr.AckedStateNum())
			s.pred.SetSendInterval(s.tr.SendIntervalMS())

		case data, ok := <-stdinCh:
			if !ok {
				if !s.tr.ShutdownInProgress() {
					logrus.Debugf("rmosh: stdin closed, beginning shutdown")
					s.rend.SetMessage("mosh: exiting on local EOF...")
					s.tr.Shutdown(time.Now())
				}
				continue
			}
			s.handleInput(data)

		case <-resizeCh:
			w, h, err := renderer.WindowSize(s.stdinFD)
			if err != nil {
				continue
			}
			logrus.Debugf("rmosh: local resize to %dx%d", w, h)
			s.width, s.height = w, h
			s.rend.Resize(w, h)
			s.pred.Resize(w, h)
			if !s.tr.ShutdownInProgress() {
				s.tr.PushResize(int32(w), int32(h))
			}

		case now := <-ticker.C:
			s.pred.Cull(s.tr.RemoteState().Terminal().Framebuffer(), now)
			s.updateConnectionNotice(now)

			if err := s.tr.Tick(now); err != nil {
				if errors.Is(err, transport.ErrShutdownDone) {
					return nil
				}
				return err
			}
			if err := s.rend.Render(s.composeFrame()); err != nil {
				return err
			}
		}
	}
}

func (s *session) updateConnectionNotice(now time.Time) {
	switch {
	case !s.tr.HasReceivedData():
		s.rend.SetMessage("mosh: Connecting...")
	case now.Sub(s.tr.LastRecvTime()) > staleConnectionNotice:
		s.rend.SetMessage(fmt.Sprintf("mosh: Last contact %.0fs ago", now.Sub(s.tr.LastRecvTime()).Seconds()))
	}
}

// composeFrame overlays the prediction engine's tentative edits onto the
// latest confirmed remote framebuffer, the same composition used as the
// base for new keystroke predictions.
func (s *session) composeFrame() *term.Framebuffer {
	fb := s.tr.RemoteState().Terminal().Framebuffer().Clone()
	if row, col, ok := s.pred.ApplyOverlays(fb); ok {
		fb.CursorRow, fb.CursorCol = row, col
	}
	return fb
}

// handleInput interprets the mosh command-escape sequence (Ctrl-^ followed
// by '.' to quit, or Ctrl-^ twice for a literal Ctrl-^) and forwards
// everything else to the transport and prediction engine untouched.
func (s *session) handleInput(data []byte) {
	if s.tr.ShutdownInProgress() {
		return
	}
	s.pred.SetLocalFrameSent(s.tr.SentStateNum())

	if !s.commandPending && !bytes.ContainsRune(data, rune(commandEscapeByte)) {
		s.forward(data)
		return
	}

	for _, b := range data {
		if s.commandPending {
			s.commandPending = false
			switch b {
			case '.':
				logrus.Debugf("rmosh: user requested shutdown via command escape")
				s.rend.SetMessage("mosh: exiting on user request...")
				s.tr.Shutdown(time.Now())
			case commandEscapeByte:
				s.forward([]byte{commandEscapeByte})
			default:
				s.rend.SetMessage("")
			}
			continue
		}
		if b == commandEscapeByte {
			s.commandPending = true
			s.rend.SetMessage("mosh: commands: '.' quit, Ctrl-^ literal Ctrl-^")
			continue
		}
		s.forward([]byte{b})
	}
}

func (s *session) forward(b []byte) {
	if len(b) == 0 {
		return
	}
	s.tr.PushKeystrokes(b)
	s.pred.NewUserInputBatch(b, s.composeFrame(), time.Now())
}
