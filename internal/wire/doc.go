// Package wire defines the message taxonomy shared by robots and screens
// and its framing: each message is a single JSON object, tagged with a
// "type" field, terminated by a newline. One framing serves every link in
// the system, so the same reader loop carries ring control, tokens, orders
// and backups.
//
// Encoding never produces a raw newline inside a frame (encoding/json
// escapes control characters), and the reader accumulates bytes until a
// newline before parsing, so partial reads can never surface as truncated
// messages.
package wire
