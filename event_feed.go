package main

import (
	"sync"
	"sync/atomic"

	"github.com/pebbe/zmq4"
)

const acceptFeedTopic = "accept"

// acceptFeed publishes share outcomes on a ZMQ PUB socket so external
// tooling can watch the proxy live. Frames are [topic, json payload],
// mirroring the usual two-frame notification layout.
type acceptFeed struct {
	addr    string
	queue   chan AcceptEvent
	done    chan struct{}
	wg      sync.WaitGroup
	healthy atomic.Bool
	dropped atomic.Uint64
}

func newAcceptFeed(addr string) *acceptFeed {
	f := &acceptFeed{
		addr:  addr,
		queue: make(chan AcceptEvent, 256),
		done:  make(chan struct{}),
	}
	f.wg.Add(1)
	go f.publishLoop()
	return f
}

func (f *acceptFeed) markHealthy() {
	if f.healthy.Swap(true) {
		return
	}
	logger.Info("accept feed publishing", "addr", f.addr)
}

func (f *acceptFeed) markUnhealthy(reason string, err error) {
	if !f.healthy.Swap(false) {
		return
	}
	logger.Warn("accept feed unhealthy", "reason", reason, "error", err)
}

// Publish queues an event. Never blocks the share path; events are
// dropped when the queue is full or the socket is down.
func (f *acceptFeed) Publish(ev AcceptEvent) {
	if f == nil {
		return
	}
	select {
	case f.queue <- ev:
	default:
		f.dropped.Add(1)
	}
}

func (f *acceptFeed) publishLoop() {
	defer f.wg.Done()

	pub, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		logger.Error("accept feed socket", "error", err)
		return
	}
	defer pub.Close()
	if err := pub.Bind(f.addr); err != nil {
		logger.Error("accept feed bind", "addr", f.addr, "error", err)
		return
	}
	f.markHealthy()

	for {
		select {
		case ev := <-f.queue:
			payload, err := fastJSONMarshal(ev)
			if err != nil {
				logger.Error("encode accept event", "error", err)
				continue
			}
			if _, err := pub.SendMessage(acceptFeedTopic, payload); err != nil {
				f.markUnhealthy("send", err)
				continue
			}
			f.markHealthy()
		case <-f.done:
			return
		}
	}
}

func (f *acceptFeed) Close() {
	if f == nil {
		return
	}
	close(f.done)
	f.wg.Wait()
}
