package oscilloscope

// Contains the client updater, which publishes JSON-encoded messages
// giving the latest scope state on the status port.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries one message to be published on the status port.
type ClientUpdate struct {
	tag   string
	state interface{}
}

// NewClientUpdate builds an update with the given tag and payload.
func NewClientUpdate(tag string, state interface{}) ClientUpdate {
	return ClientUpdate{tag: tag, state: state}
}

// RunClientUpdater forwards any message from its input channel to the ZMQ
// publisher socket as a two-frame message: the tag, then the JSON-encoded
// state. It runs until abort is closed.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int, abort <-chan struct{}) {
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		ProblemLogger.Printf("could not create status publisher: %v", err)
		return
	}
	defer pubSocket.Close()
	if err := pubSocket.Bind(hostname); err != nil {
		ProblemLogger.Printf("could not bind status publisher to %s: %v", hostname, err)
		return
	}

	for {
		select {
		case <-abort:
			return
		case update := <-messages:
			message, err := json.Marshal(update.state)
			if err != nil {
				ProblemLogger.Printf("could not encode %s update: %v", update.tag, err)
				continue
			}
			if _, err := pubSocket.Send(update.tag, zmq.SNDMORE); err != nil {
				continue
			}
			if _, err := pubSocket.SendBytes(message, 0); err != nil {
				continue
			}
			UpdateLogger.Printf("%s %s", update.tag, message)
		}
	}
}
