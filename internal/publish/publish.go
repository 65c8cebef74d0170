// Package publish announces merged events on a ZMQ PUB socket, so that
// online monitors can follow a merge while it is written to disk.
package publish

import (
	"fmt"
	"time"

	"github.com/attpc/merger"
	zmq "github.com/pebbe/zmq4"
)

// Topics of the two-part messages sent by a Publisher.
const (
	TopicEvent  = "EVENT"  // payload is the event record
	TopicStatus = "STATUS" // payload is a one-line summary of the merge
)

// Publisher is an EventSink that passes every event on to another sink and
// then publishes its record. Subscribers that cannot keep up lose messages;
// the merge never waits for them.
type Publisher struct {
	next    merger.EventSink
	socket  *zmq.Socket
	buf     []byte
	sent    int
	dropped int
}

// New binds a PUB socket to addr, such as "tcp://*:5600", and returns a
// Publisher writing to next. A nil next publishes without writing.
func New(addr string, next merger.EventSink) (*Publisher, error) {
	pub, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := pub.SetLinger(0); err != nil {
		pub.Close()
		return nil, err
	}
	if err := pub.Bind(addr); err != nil {
		pub.Close()
		return nil, fmt.Errorf("failed to bind PUB socket to %s: %w", addr, err)
	}
	merger.UpdateLogger.Printf("Publishing events on %s", addr)
	return &Publisher{next: next, socket: pub}, nil
}

// WriteEvent writes e to the next sink, then publishes it. Publishing
// failures are counted, not returned.
func (p *Publisher) WriteEvent(e *merger.Event) error {
	if p.next != nil {
		if err := p.next.WriteEvent(e); err != nil {
			return err
		}
	}
	var err error
	p.buf, err = e.AppendBinary(p.buf[:0])
	if err != nil {
		return err
	}
	p.send(TopicEvent, p.buf)
	return nil
}

// Status publishes a summary of the merge so far.
func (p *Publisher) Status(s merger.StatsSnapshot) {
	p.send(TopicStatus, []byte(s.String()))
}

func (p *Publisher) send(topic string, payload []byte) {
	if _, err := p.socket.SendMessageDontwait(topic, payload); err != nil {
		p.dropped++
		if p.dropped == 1 {
			merger.ProblemLogger.Printf("Could not publish %s message: %v", topic, err)
		}
		return
	}
	p.sent++
}

// Sent returns the number of messages published.
func (p *Publisher) Sent() int {
	return p.sent
}

// Close unbinds the socket. It does not close the next sink.
func (p *Publisher) Close() error {
	if p.dropped > 0 {
		merger.ProblemLogger.Printf("%d of %d messages could not be published", p.dropped, p.dropped+p.sent)
	}
	return p.socket.Close()
}

// Subscriber receives what a Publisher sends.
type Subscriber struct {
	socket *zmq.Socket
}

// Subscribe connects to a Publisher at addr, such as "tcp://localhost:5600",
// for the given topics. No topics means all of them.
func Subscribe(addr string, topics ...string) (*Subscriber, error) {
	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create SUB socket: %w", err)
	}
	if len(topics) == 0 {
		topics = []string{""}
	}
	for _, t := range topics {
		if err := sub.SetSubscribe(t); err != nil {
			sub.Close()
			return nil, err
		}
	}
	if err := sub.Connect(addr); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to connect SUB socket to %s: %w", addr, err)
	}
	return &Subscriber{socket: sub}, nil
}

// Receive waits for the next message and returns its topic and payload.
// Event messages are also decoded; other topics return a nil Event.
func (s *Subscriber) Receive() (string, *merger.Event, []byte, error) {
	msg, err := s.socket.RecvMessageBytes(0)
	if err != nil {
		return "", nil, nil, err
	}
	if len(msg) != 2 {
		return "", nil, nil, fmt.Errorf("message has %d parts, want 2", len(msg))
	}
	topic, payload := string(msg[0]), msg[1]
	if topic != TopicEvent {
		return topic, nil, payload, nil
	}
	e, _, err := merger.DecodeRecord(payload)
	if err != nil {
		return topic, nil, payload, err
	}
	return topic, e, payload, nil
}

// SetTimeout bounds how long Receive waits.
func (s *Subscriber) SetTimeout(d time.Duration) error {
	return s.socket.SetRcvtimeo(d)
}

// Close disconnects the subscriber.
func (s *Subscriber) Close() error {
	return s.socket.Close()
}
