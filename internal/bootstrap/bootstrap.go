// Package bootstrap opens the SSH session used to launch a remote
// mosh-server and hand off its negotiated UDP port and symmetric key,
// grounded on original_source/src/ssh.rs's SshConfig/bootstrap/
// parse_mosh_connect and the teacher's cmd/nosshtradamus/main.go auth-method
// construction.
package bootstrap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"

	"rmosh/internal/cryptosess"
)

// Config collects the parameters needed to dial a target host over SSH and
// launch its mosh-server.
type Config struct {
	Host string
	Port int
	User string

	Identities            []string
	DisableAgent          bool
	StrictHostKeyChecking bool
	KnownHostsFile        string

	ServerCommand string
	ServerArgs    []string
}

// DefaultConfig matches mosh-server's own default invocation.
func DefaultConfig(host, user string) Config {
	return Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		StrictHostKeyChecking: true,
		ServerCommand:         "mosh-server",
		ServerArgs:            []string{"new", "-s", "-c", "256"},
	}
}

// Result is what a successful bootstrap hands back: the negotiated UDP
// endpoint and symmetric key for the state synchronization transport.
type Result struct {
	RemoteIP string
	Port     int
	Key      cryptosess.Key
}

// Dial opens an SSH session to cfg.Host, executes the remote mosh-server,
// and parses its "MOSH CONNECT <port> <key>" announcement from stdout.
func Dial(cfg Config) (*Result, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}
	hostKeyCB, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	logrus.Debugf("bootstrap: dialing %s as %s with %d auth method(s)", addr, cfg.User, len(auth))
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCB,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: ssh dial %s: %w", addr, err)
	}
	defer client.Close()
	logrus.Debugf("bootstrap: ssh handshake with %s complete", addr)

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	cmd := cfg.ServerCommand
	if len(cfg.ServerArgs) > 0 {
		cmd = cmd + " " + strings.Join(cfg.ServerArgs, " ")
	}
	logrus.Debugf("bootstrap: running remote command %q", cmd)
	if err := session.Run(cmd); err != nil {
		return nil, fmt.Errorf("bootstrap: %s exited: %w: %s", cfg.ServerCommand, err, stderr.String())
	}

	result, err := parseMoshConnect(stdout.String(), cfg.Host)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("bootstrap: mosh-server announced port %d", result.Port)
	return result, nil
}

// parseMoshConnect extracts the port and key from a mosh-server announcement
// line of the form "MOSH CONNECT <port> <key>", matching
// original_source/src/ssh.rs's parse_mosh_connect exactly (first matching
// line wins, and a line with fewer than 4 whitespace-separated fields is
// skipped rather than treated as a parse error).
func parseMoshConnect(output, remoteIP string) (*Result, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "MOSH CONNECT ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("bootstrap: invalid port in MOSH CONNECT line: %w", err)
		}
		key, err := cryptosess.ParseKey(fields[3])
		if err != nil {
			return nil, fmt.Errorf("bootstrap: invalid key in MOSH CONNECT line: %w", err)
		}
		return &Result{RemoteIP: remoteIP, Port: port, Key: key}, nil
	}
	return nil, fmt.Errorf("bootstrap: no MOSH CONNECT line found in mosh-server output:\n%s", output)
}

// hostKeyCallback builds the target-host key verification policy: strict
// known_hosts checking by default, matching the teacher's
// StrictHostKeyChecking toggle and default $HOME/.ssh/known_hosts lookup.
func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if !cfg.StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	known := cfg.KnownHostsFile
	if known == "" {
		home, ok := os.LookupEnv("HOME")
		if !ok {
			return nil, errors.New("bootstrap: strict host key checking requires $HOME or an explicit known_hosts path")
		}
		known = home + "/.ssh/known_hosts"
	}
	return knownhosts.New(known)
}

// authMethods assembles SSH auth methods in the teacher's order: explicit
// identity files, then the running SSH agent, then $HOME's default identity
// files if no identities were named, finally an interactive password
// prompt, mirroring original_source/src/ssh.rs's authenticate() ordering.
func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var signers []ssh.Signer
	seen := map[string]bool{}
	add := func(s ssh.Signer) {
		fp := string(s.PublicKey().Marshal())
		if !seen[fp] {
			seen[fp] = true
			signers = append(signers, s)
		}
	}

	for _, path := range cfg.Identities {
		if s, err := loadIdentity(path); err == nil {
			add(s)
		} else {
			logrus.Debugf("bootstrap: skipping identity %s: %v", path, err)
		}
	}

	if !cfg.DisableAgent {
		if sock, ok := os.LookupEnv("SSH_AUTH_SOCK"); ok {
			if conn, err := net.Dial("unix", sock); err == nil {
				if agentSigners, err := agent.NewClient(conn).Signers(); err == nil {
					logrus.Debugf("bootstrap: loaded %d signer(s) from ssh-agent", len(agentSigners))
					for _, s := range agentSigners {
						add(s)
					}
				} else {
					logrus.Debugf("bootstrap: ssh-agent returned no signers: %v", err)
				}
			} else {
				logrus.Debugf("bootstrap: could not reach ssh-agent at %s: %v", sock, err)
			}
		}
	}

	if len(cfg.Identities) == 0 {
		if home, ok := os.LookupEnv("HOME"); ok {
			for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
				if s, err := loadIdentity(home + "/.ssh/" + name); err == nil {
					add(s)
				} else {
					logrus.Debugf("bootstrap: skipping default identity %s: %v", name, err)
				}
			}
		}
	}

	methods := []ssh.AuthMethod{
		ssh.PublicKeysCallback(func() ([]ssh.Signer, error) { return signers, nil }),
		ssh.PasswordCallback(promptPassword(cfg)),
	}
	return methods, nil
}

// loadIdentity reads a private key file, prompting for a passphrase on the
// controlling terminal if the key is encrypted.
func loadIdentity(path string) (ssh.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err == nil {
		return signer, nil
	}
	var passphraseErr *ssh.PassphraseMissingError
	if !errors.As(err, &passphraseErr) {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "Enter passphrase for %s: ", path)
	passphrase, readErr := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if readErr != nil {
		return nil, readErr
	}
	return ssh.ParsePrivateKeyWithPassphrase(raw, passphrase)
}

// promptPassword reads a password from the controlling terminal once,
// without echo, for use as a last-resort SSH auth method.
func promptPassword(cfg Config) func() (string, error) {
	return func() (string, error) {
		fmt.Fprintf(os.Stderr, "%s@%s's password: ", cfg.User, cfg.Host)
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(password), nil
	}
}
