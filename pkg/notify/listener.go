package notify

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Listener consumes the change notifier's channel over a dedicated
// Postgres LISTEN connection and fans envelopes out to subscribers.
// Used by the status API's event stream endpoint.
type Listener struct {
	pql    *pq.Listener
	out    chan Envelope
	done   chan struct{}
	logger *logrus.Logger
}

// NewListener opens a LISTEN connection on the notifier channel.
func NewListener(dsn string, logger *logrus.Logger) (*Listener, error) {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.WithError(err).Warn("Change listener connection problem")
		}
	}

	pql := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)
	if err := pql.Listen(Channel); err != nil {
		if closeErr := pql.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to close change listener")
		}
		return nil, err
	}

	l := &Listener{
		pql:    pql,
		out:    make(chan Envelope, 100),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.loop()
	return l, nil
}

// Events returns the stream of decoded envelopes. The channel is closed
// when the listener shuts down. Slow consumers drop events rather than
// blocking the LISTEN connection.
func (l *Listener) Events() <-chan Envelope {
	return l.out
}

// Close tears down the LISTEN connection and the event channel.
func (l *Listener) Close() error {
	close(l.done)
	return l.pql.Close()
}

func (l *Listener) loop() {
	defer close(l.out)
	for {
		select {
		case <-l.done:
			return
		case n, ok := <-l.pql.Notify:
			if !ok {
				return
			}
			if n == nil {
				// lib/pq sends nil after a connection re-establishment
				continue
			}
			var env Envelope
			if err := json.Unmarshal([]byte(n.Extra), &env); err != nil {
				l.logger.WithError(err).Warn("Change listener received invalid payload")
				continue
			}
			select {
			case l.out <- env:
			default:
				l.logger.Debug("Change listener subscriber too slow, dropping event")
			}
		case <-time.After(90 * time.Second):
			// periodic liveness ping keeps the connection from going stale
			go func() {
				if err := l.pql.Ping(); err != nil {
					l.logger.WithError(err).Warn("Change listener ping failed")
				}
			}()
		}
	}
}
