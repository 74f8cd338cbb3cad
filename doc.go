// Package chanhub provides a closeable bounded channel with sender and
// receiver reference counts, and a broadcast broker that fans messages out to
// subscriber channels without ever blocking the producer.
//
// Values moving through a Channel are Payloads: externally reference-counted
// handles. Every successful enqueue takes ownership of one reference, every
// successful receive hands that reference to the caller, and every path that
// discards a value releases exactly one reference.
//
// A Channel starts with one sender and one receiver. When the last receiver
// drops, buffered values are discarded and the channel closes; when the last
// sender drops, the channel closes and blocked receivers wake up. Once both
// counts reach zero the channel is destroyed.
//
// Send and Recv have no timeout and no cancellation. A blocked Send is only
// released by a Recv, a Close or the last receiver dropping; a blocked Recv by
// a Send, a Close or the last sender dropping.
package chanhub
