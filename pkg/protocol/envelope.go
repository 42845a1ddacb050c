package protocol

// Envelope pairs a request with its correlation id. Subscribed marks an id
// bound to a persistent handler that may receive many responses.
type Envelope struct {
	ID         uint32
	Subscribed bool
	Request    Request
}

// Reply returns an envelope answering e with req.
func (e Envelope) Reply(req Request) Envelope {
	return Envelope{ID: e.ID, Subscribed: e.Subscribed, Request: req}
}
