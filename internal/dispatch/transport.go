package dispatch

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/gomail.v2"
)

// RejectionError carries the receiving server's human readable reason for
// refusing a message. The reason string is what the bounce classifier
// evaluates.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("message rejected, %s", e.Reason)
}

// Transport is the external smtp capability. It either accepts the fully
// built message or rejects it, the pipeline never deals in smtp framing.
type Transport interface {
	Send(ctx context.Context, from string, to []string, msg io.WriterTo) error
}

// SMTPRelay sends through an upstream relay using gomail's dialer. Each send
// dials, sends and closes, pooling is left to the relay.
type SMTPRelay struct {
	dialer *gomail.Dialer
}

func NewSMTPRelay(host string, port int, username, password string) *SMTPRelay {
	return &SMTPRelay{
		dialer: gomail.NewDialer(host, port, username, password),
	}
}

func (t *SMTPRelay) Send(ctx context.Context, from string, to []string, msg io.WriterTo) error {
	type outcome struct {
		err error
	}
	res := make(chan outcome, 1)

	go func() {
		sc, err := t.dialer.Dial()
		if err != nil {
			res <- outcome{err: fmt.Errorf("could not connect to relay, %w", err)}
			return
		}
		defer sc.Close()
		err = sc.Send(from, to, msg)
		if err != nil {
			// the relay answered and said no, surface its reason
			err = &RejectionError{Reason: err.Error()}
		}
		res <- outcome{err: err}
	}()

	select {
	case o := <-res:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
