package tunneling

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/messaging"
)

// base keeps what every tunnel backend shares: the recipient to uri map and
// the handling of inbound messages.
type base struct {
	messaging.ConnectionManager

	logger     *slog.Logger
	version    int
	route      string
	dispatcher Dispatcher
	uris       map[comm.Recipient]string

	pendingDispatches atomic.Int64

	postMessage func(uri string, msg comm.Msg) error
}

func newBase(logger *slog.Logger, version int) base {
	return base{
		logger:  logger,
		version: version,
		uris:    make(map[comm.Recipient]string),
	}
}

// Route returns the uri of the backend.
func (b *base) Route() string {
	return b.route
}

// Version returns the tunnel version the backend speaks.
func (b *base) Version() int {
	return b.version
}

// URI returns the uri known for recipient.
func (b *base) URI(recipient comm.Recipient) (string, bool) {
	uri, found := b.uris[recipient]

	return uri, found
}

// AddRoute records the uri of a recipient.
func (b *base) AddRoute(recipient comm.Recipient, uri string) {
	if _, found := b.uris[recipient]; found {
		b.logger.Debug("overwriting uri of recipient",
			"recipient", recipient.String(), "uri", uri)
	}

	b.uris[recipient] = uri
}

// RemoveRoute forgets the uri of a recipient.
func (b *base) RemoveRoute(recipient comm.Recipient) {
	if _, found := b.uris[recipient]; !found {
		b.logger.Warn("removing the uri of an unknown recipient",
			"recipient", recipient.String())
		return
	}

	delete(b.uris, recipient)
}

// Post sends msg to the uri of its recipient. Broadcast messages are dropped.
func (b *base) Post(msg comm.Msg) error {
	recp := msg.Meta().Recipient
	if recp.Type == comm.BroadcastRecipient {
		b.logger.Warn("tunnels do not carry broadcast messages, dropping",
			"recipient", recp.String())
		return nil
	}

	uri, found := b.uris[recp]
	if !found {
		return fmt.Errorf("%s: %w", recp, ErrUnknownURI)
	}

	return b.postMessage(uri, msg)
}

// dispatch handles a message that arrived from uri. It must run on the loop.
func (b *base) dispatch(uri string, msg comm.Msg) {
	if b.dispatcher == nil {
		b.logger.Warn("dropping message received while disconnected",
			"message_id", msg.Meta().ID)
		return
	}

	b.logger.Debug("tunnel received message", "uri", uri,
		"message_id", msg.Meta().ID)

	if _, isDialog := msg.(comm.DialogMsg); isDialog {
		recp := msg.Meta().ReplyTo
		if known, found := b.uris[recp]; !recp.IsZero() &&
			(!found || known != uri) {
			b.logger.Debug("learning reply route",
				"recipient", recp.String(), "uri", uri)
			b.dispatcher.LearnRoute(recp, uri)
		}
	}

	d := b.dispatcher
	b.pendingDispatches.Add(1)
	d.Engine().CallNext(func() {
		b.pendingDispatches.Add(-1)
		d.Deliver(msg)
	})
}

func (b *base) disconnect() {
	clear(b.uris)
	b.dispatcher = nil
}
