package command

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/go-zoox/ntun/logging"
	"github.com/go-zoox/ntun/transport"
)

const maxSDPLine = 1024 * 1024

// sdpConsole exchanges webrtc session descriptions by copy and paste: local
// ones are printed base64 encoded, remote ones are read one per line.
type sdpConsole struct {
	in     io.Reader
	out    io.Writer
	role   transport.Role
	logger logging.Logger
}

func newSDPConsole(in io.Reader, out io.Writer) *sdpConsole {
	return &sdpConsole{
		in:     in,
		out:    out,
		logger: logging.New("console"),
	}
}

func (c *sdpConsole) mediator() transport.Mediator {
	return transport.Mediator{
		OnOffer: func(sdp string) {
			c.print("offer", sdp)
			c.logger.Infof("paste the answer of the other side")
		},
		OnAnswer: func(sdp string) {
			c.print("answer", sdp)
		},
	}
}

func (c *sdpConsole) print(kind, sdp string) {
	fmt.Fprintf(c.out, "%s: %s\n", kind, base64.StdEncoding.EncodeToString([]byte(sdp)))
}

// serve feeds every pasted description to w until ctx is done or the input
// ends.
func (c *sdpConsole) serve(ctx context.Context, w *transport.WebRTC) {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), maxSDPLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		sdp, err := decodeSDP(scanner.Text())
		if err != nil {
			c.logger.Warnf("%v", err)
			continue
		}
		if sdp == "" {
			continue
		}

		if c.role == transport.RoleOffer {
			if err := w.SetAnswer(sdp); err != nil {
				c.logger.Warnf("failed to set answer: %v", err)
			}
		} else if _, err := w.CreateAnswer(sdp); err != nil {
			c.logger.Warnf("failed to answer offer: %v", err)
		}
	}
}

// decodeSDP accepts a line as printed by the other side, with or without its
// "offer:" / "answer:" prefix.
func decodeSDP(line string) (string, error) {
	line = strings.TrimSpace(line)
	for _, prefix := range []string{"offer:", "answer:"} {
		line = strings.TrimSpace(strings.TrimPrefix(line, prefix))
	}
	if line == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return "", fmt.Errorf("invalid sdp: %v", err)
	}
	return string(raw), nil
}
