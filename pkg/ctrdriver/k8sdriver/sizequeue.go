package k8sdriver

import "k8s.io/client-go/tools/remotecommand"

// sizeQueue implements remotecommand.TerminalSizeQueue so Resize calls can
// be delivered to an in-flight exec stream.
type sizeQueue struct {
	ch     chan remotecommand.TerminalSize
	closed chan struct{}
}

func newSizeQueue() *sizeQueue {
	return &sizeQueue{
		ch:     make(chan remotecommand.TerminalSize, 1),
		closed: make(chan struct{}),
	}
}

// Next blocks until a new size is pushed or the queue is closed.
func (q *sizeQueue) Next() *remotecommand.TerminalSize {
	select {
	case size := <-q.ch:
		return &size
	case <-q.closed:
		return nil
	}
}

func (q *sizeQueue) push(cols, rows int) {
	select {
	case q.ch <- remotecommand.TerminalSize{Width: uint16(cols), Height: uint16(rows)}:
	case <-q.closed:
	}
}

func (q *sizeQueue) close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}
