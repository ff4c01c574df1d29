package device

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ev3dev/ev3link"
	"github.com/sirupsen/logrus"
)

// authenticator answers keyboard-interactive challenges by forwarding each
// prompt to the credential provider, one at a time, in server order. It also
// records which methods the server let us try.
type authenticator struct {
	ctx      context.Context //nolint:containedctx // lives for one handshake
	user     string
	provider ev3link.CredentialProvider
	log      logrus.FieldLogger

	// conn carries the handshake deadline, lifted while a prompt is outstanding.
	conn    net.Conn
	timeout time.Duration

	mu        sync.Mutex
	passwords int
	prompts   int
	err       error
}

func newAuthenticator(ctx context.Context, user string, p ev3link.CredentialProvider, log logrus.FieldLogger) *authenticator {
	return &authenticator{
		ctx:      ctx,
		user:     user,
		provider: p,
		log:      log,
	}
}

// bound arms a handshake deadline of timeout on conn.
func (a *authenticator) bound(conn net.Conn, timeout time.Duration) {
	a.conn = conn
	a.timeout = timeout

	a.resume()
}

func (a *authenticator) pause() {
	if a.conn != nil {
		_ = a.conn.SetDeadline(time.Time{})
	}
}

func (a *authenticator) resume() {
	if a.conn != nil && a.timeout > 0 {
		_ = a.conn.SetDeadline(time.Now().Add(a.timeout))
	}
}

// password returns an ssh.PasswordCallback for secret that counts attempts.
func (a *authenticator) password(secret string) func() (string, error) {
	return func() (string, error) {
		a.mu.Lock()
		a.passwords++
		a.mu.Unlock()

		return secret, nil
	}
}

// challenge implements ssh.KeyboardInteractiveChallenge. The ssh package waits
// for it to return before answering the server, so prompts are serialized.
func (a *authenticator) challenge(_, instruction string, questions []string, echos []bool) ([]string, error) {
	answers := make([]string, len(questions))

	for i, q := range questions {
		if err := a.ctx.Err(); err != nil {
			return nil, a.fail(err)
		}

		p := ev3link.Prompt{
			User:        a.user,
			Instruction: instruction,
			Text:        q,
			Echo:        i < len(echos) && echos[i],
		}

		a.mu.Lock()
		a.prompts++
		a.mu.Unlock()

		a.log.WithField("secret", !p.Echo).Debug("forwarding authentication prompt")

		// A person may take longer than the handshake timeout to answer.
		a.pause()
		answer, err := a.provider.Prompt(a.ctx, p)
		a.resume()

		if err != nil {
			return nil, a.fail(err)
		}

		answers[i] = answer
	}

	return answers, nil
}

func (a *authenticator) fail(err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err == nil {
		a.err = err
	}

	return err
}

// providerErr is the first error the credential provider returned, if any.
func (a *authenticator) providerErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.err
}

// attempted reports whether the server got as far as asking for a password
// or a keyboard-interactive answer.
func (a *authenticator) attempted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.passwords > 0 || a.prompts > 0
}

// rejected reports whether a handshake that failed with err was turned away
// at the authentication stage rather than losing its transport.
func (a *authenticator) rejected(err error) bool {
	if err == nil || isTransportFailure(err) {
		return false
	}

	if a.attempted() {
		return true
	}

	// Server offered none of our methods. x/crypto/ssh reports this as
	// "ssh: unable to authenticate, attempted methods [none], no supported
	// methods remain" with no typed error to match.
	return strings.Contains(err.Error(), "unable to authenticate")
}

func isTransportFailure(err error) bool {
	var netErr net.Error

	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &netErr)
}
