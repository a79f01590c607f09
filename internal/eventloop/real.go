package eventloop

import (
	"time"

	"github.com/andersfylling/lockstep-arena/internal/timeval"
	"github.com/sirupsen/logrus"
)

// inboxCapacity bounds the buffered channel backing a real handler's inbox.
// Handlers are expected to drain promptly; a full inbox simply applies
// normal Go channel backpressure to senders.
const inboxCapacity = 64

// SpawnReal starts handler on its own goroutine (spec §4.1 "Real": one OS
// thread per handler; inbox is an MPSC queue) and returns a sender for its
// inbox. join is invoked, on the handler's own goroutine, with the result
// of OnStop or of a StopThread decision. The loop does not recover panics:
// a handler that turns a panicking callback into a result recovers it
// itself and returns it through StopThread (timerservice.Handler does).
func SpawnReal[E any, R any](name string, handler EventHandler[E, R], join func(R)) EventSender[E] {
	ch := make(chan message[E], inboxCapacity)
	done := make(chan struct{})

	sender := EventSender[E]{ch: ch, done: done}

	go func() {
		defer close(done)
		log := logrus.WithField("thread", name)
		log.Debug("eventloop: thread starting")
		result := runRealLoop(log, ch, handler)
		log.Debug("eventloop: thread stopped")
		join(result)
	}()

	return sender
}

func runRealLoop[E any, R any](log *logrus.Entry, ch chan message[E], handler EventHandler[E, R]) R {
	mode := decisionWaitForNextEvent
	timeout := timeval.Zero()

	for {
		switch mode {
		case decisionWaitForNextEvent:
			msg, ok := <-ch
			if !ok {
				d := handler.OnChannelDisconnect()
				var done bool
				var result R
				mode, timeout, done, result = applyDecision(d)
				if done {
					return result
				}
				continue
			}
			if msg.stop {
				return handler.OnStop(ReceiveMetaData{TimeReceived: timeval.Now()})
			}
			d := handler.OnEvent(ReceiveMetaData{TimeReceived: timeval.Now()}, msg.event)
			var done bool
			var result R
			mode, timeout, done, result = applyDecision(d)
			if done {
				return result
			}

		case decisionWaitForNextEventOrTimeout:
			select {
			case msg, ok := <-ch:
				if !ok {
					d := handler.OnChannelDisconnect()
					var done bool
					var result R
					mode, timeout, done, result = applyDecision(d)
					if done {
						return result
					}
					continue
				}
				if msg.stop {
					return handler.OnStop(ReceiveMetaData{TimeReceived: timeval.Now()})
				}
				d := handler.OnEvent(ReceiveMetaData{TimeReceived: timeval.Now()}, msg.event)
				var done bool
				var result R
				mode, timeout, done, result = applyDecision(d)
				if done {
					return result
				}
			case <-time.After(timeout.StdDuration()):
				d := handler.OnTimeout()
				var done bool
				var result R
				mode, timeout, done, result = applyDecision(d)
				if done {
					return result
				}
			}

		case decisionTryForNextEvent:
			select {
			case msg, ok := <-ch:
				if !ok {
					d := handler.OnChannelDisconnect()
					var done bool
					var result R
					mode, timeout, done, result = applyDecision(d)
					if done {
						return result
					}
					continue
				}
				if msg.stop {
					return handler.OnStop(ReceiveMetaData{TimeReceived: timeval.Now()})
				}
				d := handler.OnEvent(ReceiveMetaData{TimeReceived: timeval.Now()}, msg.event)
				var done bool
				var result R
				mode, timeout, done, result = applyDecision(d)
				if done {
					return result
				}
			default:
				d := handler.OnChannelEmpty()
				var done bool
				var result R
				mode, timeout, done, result = applyDecision(d)
				if done {
					return result
				}
			}
		}
	}
}
