// Package network provides the framed point-to-point streams generals use
// to talk to each other.
//
// # Framing
//
// Every message is a JSON object followed by a single 0x04 byte. A read
// may carry several frames or a partial one; SplitFrames recovers the
// complete frames in arrival order and keeps the remainder for the next
// read. A terminator with nothing before it ends an empty frame, which
// carries no message and is dropped without reaching the Handler. Any
// non-empty payload that is not valid JSON is still delivered with only
// Message.Raw set.
//
// # Handshake
//
// Right after a stream is established the dialer writes its decimal id and
// the acceptor answers with its own (Dial and Accept). From then on the
// stream is wrapped in a Channel.
//
// # Channel
//
// A Channel owns one stream. A single worker reads frames and hands the
// decoded Message to a Handler, so messages on one channel are processed
// strictly in order. Send is safe for concurrent use and never surfaces
// write failures: a broken stream simply stops the channel.
package network
