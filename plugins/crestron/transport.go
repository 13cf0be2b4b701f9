package crestron

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/joshp123/tpanel/internal/rate"
)

var (
	ErrConnection = errors.New("panel connection failed")
	ErrTimeout    = errors.New("panel timed out")
	ErrProtocol   = errors.New("panel protocol error")
)

// Runner executes one console command on a panel and returns its stdout.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// SSHRunner opens a fresh SSH connection for every command.
type SSHRunner struct {
	cfg            PanelConfig
	connectTimeout time.Duration
	commandTimeout time.Duration
	log            logrus.FieldLogger
}

func NewSSHRunner(cfg PanelConfig, connectTimeout, commandTimeout time.Duration, log logrus.FieldLogger) *SSHRunner {
	return &SSHRunner{
		cfg:            cfg,
		connectTimeout: connectTimeout,
		commandTimeout: commandTimeout,
		log:            log,
	}
}

// Run executes command. A non-zero exit status is not an error; the panel
// console exits non-zero for commands it prints a reply to anyway.
func (r *SSHRunner) Run(ctx context.Context, command string) (string, error) {
	out, err := r.run(ctx, command)
	if err != nil {
		r.log.WithError(err).WithField("command", command).Error("ssh command failed")
	}
	return out, err
}

func (r *SSHRunner) run(ctx context.Context, command string) (string, error) {
	client, err := r.dial(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("%w: open session: %v", ErrProtocol, err)
	}
	defer session.Close()

	cmdCtx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(command)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && !isExitStatus(res.err) {
			return "", fmt.Errorf("%w: run %q: %v", ErrProtocol, command, res.err)
		}
		return string(res.out), nil
	case <-cmdCtx.Done():
		// Closing the client unblocks the pending Output call.
		client.Close()
		return "", fmt.Errorf("%w: %q after %s", ErrTimeout, command, r.commandTimeout)
	}
}

func (r *SSHRunner) dial(ctx context.Context) (*ssh.Client, error) {
	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))

	dialCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if dialCtx.Err() != nil {
			return nil, fmt.Errorf("%w: connect %s", ErrTimeout, addr)
		}
		return nil, fmt.Errorf("%w: connect %s: %v", ErrConnection, addr, err)
	}

	// The handshake has no context of its own; tear the socket down if the
	// connect bound expires mid-handshake.
	stop := context.AfterFunc(dialCtx, func() { conn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, r.clientConfig())
	if !stop() {
		if err == nil {
			sshConn.Close()
		}
		return nil, fmt.Errorf("%w: handshake %s", ErrTimeout, addr)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake %s: %v", ErrConnection, addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (r *SSHRunner) clientConfig() *ssh.ClientConfig {
	password := r.cfg.Password
	return &ssh.ClientConfig{
		User: r.cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.connectTimeout,
	}
}

func isExitStatus(err error) bool {
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	return errors.As(err, &exitErr) || errors.As(err, &missing)
}

// GuardedRunner spends a rate token before every command. A denied command
// is reported as a connection fault so callers treat it like any other
// transport failure.
type GuardedRunner struct {
	next  Runner
	guard *rate.Guard
}

func NewGuardedRunner(next Runner, guard *rate.Guard) GuardedRunner {
	return GuardedRunner{next: next, guard: guard}
}

func (g GuardedRunner) Run(ctx context.Context, command string) (string, error) {
	if err := g.guard.Allow(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return g.next.Run(ctx, command)
}
