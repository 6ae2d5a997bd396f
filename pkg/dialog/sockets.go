package dialog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

type socketMode int

const (
	// one socket sends the request and receives the reply
	modeSingle socketMode = iota
	// replies arrive on a second socket bound to the reply port
	modePair
)

// socketSet holds the sockets of one exchange attempt
type socketSet struct {
	mode socketMode
	send *net.UDPConn
	recv *net.UDPConn
}

// openSockets binds the send socket to localPort (0 for ephemeral) and,
// when replyPort names a different port, a receive socket on replyPort
func openSockets(localPort, replyPort int) (*socketSet, error) {
	send, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, fmt.Errorf("bind send socket on port %d: %w", localPort, err)
	}

	if replyPort == 0 || replyPort == localPort {
		return &socketSet{mode: modeSingle, send: send, recv: send}, nil
	}

	recv, err := net.ListenUDP("udp", &net.UDPAddr{Port: replyPort})
	if err != nil {
		send.Close()
		return nil, fmt.Errorf("bind reply socket on port %d: %w", replyPort, err)
	}
	return &socketSet{mode: modePair, send: send, recv: recv}, nil
}

// Close closes every socket of the set
func (s *socketSet) Close() error {
	err := s.send.Close()
	if s.mode == modePair {
		if rerr := s.recv.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

// exchange sends payload to dst and waits up to timeout for one datagram
func (s *socketSet) exchange(ctx context.Context, payload []byte, dst *net.UDPAddr, timeout time.Duration, maxSize int) ([]byte, net.Addr, error) {
	if _, err := s.send.WriteToUDP(payload, dst); err != nil {
		return nil, nil, err
	}

	deadline := time.Now().Add(timeout)
	ctxBound := false
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline, ctxBound = d, true
	}
	if err := s.recv.SetReadDeadline(deadline); err != nil {
		return nil, nil, err
	}

	// unblock the read when ctx is cancelled
	stop := context.AfterFunc(ctx, func() {
		s.recv.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxSize)
	n, from, err := s.recv.ReadFromUDP(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if ctxBound && classify(err) == KindTimeout {
			return nil, nil, context.DeadlineExceeded
		}
		return nil, nil, err
	}
	return buf[:n], from, nil
}

// classify maps a socket error to a Kind
func classify(err error) Kind {
	var ne net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return KindTimeout
	}
	return KindSocket
}
