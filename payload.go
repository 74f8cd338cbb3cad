package chanhub

// Payload is a value whose lifetime is governed by an external reference
// count. Channels and brokers retain and release payloads but never look
// inside them.
type Payload interface {
	Retain()
	Release()
}
