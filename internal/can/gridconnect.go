package can

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tarm/serial"
)

// ErrGridConnect reports a malformed GridConnect message.
var ErrGridConnect = errors.New("can: malformed gridconnect message")

// MarshalGridConnect encodes f as a GridConnect ASCII message, for example
// ":SB020N9101000005;".
func MarshalGridConnect(f Frame) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":S%04X", f.ID<<5)
	if f.RTR {
		b.WriteString("R")
	} else {
		b.WriteString("N")
		b.WriteString(strings.ToUpper(hex.EncodeToString(f.Payload())))
	}
	b.WriteString(";")
	return b.String()
}

// ParseGridConnect decodes a single standard-frame GridConnect message.
// Leading noise before ':' and the trailing ';' are optional.
func ParseGridConnect(s string) (Frame, error) {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), ";")
	if len(s) < 6 || (s[0] != 'S' && s[0] != 's') {
		return Frame{}, fmt.Errorf("%w: %q", ErrGridConnect, s)
	}
	raw, err := strconv.ParseUint(s[1:5], 16, 16)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: header %q", ErrGridConnect, s[1:5])
	}
	f := Frame{ID: uint16(raw >> 5)}
	switch s[5] {
	case 'R', 'r':
		f.RTR = true
		return f, nil
	case 'N', 'n':
	default:
		return Frame{}, fmt.Errorf("%w: frame type %q", ErrGridConnect, s[5])
	}
	data, err := hex.DecodeString(s[6:])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: data: %v", ErrGridConnect, err)
	}
	if len(data) > 8 {
		return Frame{}, ErrInvalidLen
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f, nil
}

// GridConnect is a Port over a GridConnect stream, either a USB serial
// adapter or a TCP bridge such as a CANUSB4 or CAN-Ether.
type GridConnect struct {
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	r      *bufio.Reader
	target string
}

// OpenGridConnect connects to target, which is either socket://host:port or
// a serial device path.
func OpenGridConnect(target string, baud int) (*GridConnect, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target %q: %w", target, err)
	}

	var conn io.ReadWriteCloser
	switch u.Scheme {
	case "socket", "tcp":
		c, err := net.Dial("tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u.Host, err)
		}
		if tcp, ok := c.(*net.TCPConn); ok {
			tcp.SetKeepAlive(true)
			tcp.SetKeepAlivePeriod(30 * time.Second)
		}
		conn = c
	case "file", "":
		conn, err = serial.OpenPort(&serial.Config{Name: u.Path, Baud: baud, Size: 8, Parity: serial.ParityNone, StopBits: serial.Stop1})
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", u.Path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported transport %q", target)
	}

	log.Info().Str("target", target).Msg("GridConnect transport open")
	return NewGridConnect(conn, target), nil
}

// NewGridConnect wraps an already open stream.
func NewGridConnect(conn io.ReadWriteCloser, name string) *GridConnect {
	return &GridConnect{conn: conn, r: bufio.NewReader(conn), target: name}
}

func (g *GridConnect) Transmit(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return ErrClosed
	}
	_, err := io.WriteString(g.conn, MarshalGridConnect(f))
	return err
}

// Run reads frames and hands each one to handle until ctx is cancelled or
// the stream fails. Malformed messages are logged and skipped.
func (g *GridConnect) Run(ctx context.Context, handle func(Frame)) error {
	stop := context.AfterFunc(ctx, func() { g.Close() })
	defer stop()

	for {
		line, err := g.r.ReadString(';')
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", g.target, err)
		}
		if strings.IndexByte(line, ':') < 0 {
			continue
		}
		f, err := ParseGridConnect(line)
		if err != nil {
			log.Debug().Err(err).Str("raw", line).Msg("Skipping GridConnect message")
			continue
		}
		handle(f)
	}
}

func (g *GridConnect) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	return err
}
