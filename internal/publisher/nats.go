package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"bus-simulator/internal/fleet"
	"bus-simulator/internal/sim"
)

const DefaultSubjectPrefix = "buses"

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	nc          *nats.Conn
	conn        conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("bus-simulator"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := newPublisher(nc, prefix, logSubjects, m)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, prefix string, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: c, prefix: prefix, logSubjects: logSubjects, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATSPublisher) Name() string { return "nats" }

// Publish sends every bus snapshot of the frame on <prefix>.<route>.<bus>
// and the fleet stats on <prefix>.stats. The first error is returned after
// the remaining messages have been attempted.
func (p *NATSPublisher) Publish(_ context.Context, f fleet.Frame) error {
	var firstErr error
	for _, st := range f.Statuses {
		if err := p.PublishStatus(st); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish bus %s: %w", st.ID, err)
		}
	}
	if err := p.PublishStats(f.Stats, f.At); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("publish stats: %w", err)
	}
	return firstErr
}

func (p *NATSPublisher) PublishStatus(st sim.StatusSnapshot) error {
	return p.publish(p.StatusSubject(st.RouteID, st.ID), st)
}

// StatsMessage is the payload on the stats subject.
type StatsMessage struct {
	sim.Stats
	Timestamp time.Time `json:"timestamp"`
}

func (p *NATSPublisher) PublishStats(st sim.Stats, at time.Time) error {
	return p.publish(p.prefix+".stats", StatsMessage{Stats: st, Timestamp: at})
}

func (p *NATSPublisher) StatusSubject(routeID, busID string) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(routeID), subjectToken(busID))
}

func (p *NATSPublisher) publish(subject string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
