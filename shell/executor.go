package shell

import (
	"context"
	"fmt"
	"io"

	"github.com/tapware/nfcshell/reader"
)

// Execute transmits each frame of the batch in order and prints the
// conversation to out as it happens. The first failed frame prints a
// failure line and stops the batch; earlier output stays on screen.
// Cancellation is honored between frames. An empty batch is a no-op
// with no transport calls and no output.
//
// The returned error is the transport failure or the context error;
// both have already been reported to out, so callers only inspect the
// error to decide whether to keep looping.
func Execute(ctx context.Context, transport reader.Transport, batch CommandBatch, out io.Writer) error {
	for _, frame := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprintf(out, "TX: \"%s\"...\n", frame.HexString())

		resp, err := transport.Transmit(frame)
		if err != nil {
			fmt.Fprintf(out, "\"%s\" failed.\n", frame.HexString())
			return err
		}

		fmt.Fprintln(out, "RX: (HEX)")
		fmt.Fprintln(out, Frame(resp).HexString())
		fmt.Fprintln(out, "RX: (ASCII)")
		fmt.Fprintln(out, Frame(resp).ASCIIString())
	}
	return nil
}
