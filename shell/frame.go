// Package shell implements the interactive command shell: parsing hex
// input lines into command frames, waiting for a card, executing frame
// batches against a reader transport and printing the conversation.
package shell

import "strings"

const hexDigits = "0123456789ABCDEF"

// Frame is one raw command frame destined for the card, or a raw
// response received from it.
type Frame []byte

// CommandBatch is an ordered list of frames executed as one unit. The
// order of the batch is the execution order.
type CommandBatch []Frame

// HexString renders the frame as uppercase hex pairs separated by
// spaces, e.g. "30 00".
func (f Frame) HexString() string {
	if len(f) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(f)*3 - 1)
	for i, b := range f {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(hexDigits[b>>4])
		sb.WriteByte(hexDigits[b&0x0F])
	}
	return sb.String()
}

// ASCIIString renders printable bytes as characters and everything else
// as '.', e.g. "Hi.".
func (f Frame) ASCIIString() string {
	result := make([]byte, len(f))
	for i, b := range f {
		if b >= 0x20 && b <= 0x7E {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}
