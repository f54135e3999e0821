package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/downfa11-org/kvs/pkg/controller"
	"github.com/downfa11-org/kvs/pkg/server"
	"github.com/downfa11-org/kvs/pkg/types"
	"github.com/downfa11-org/kvs/util"
)

const DefaultTimeout = 5 * time.Second

type Options struct {
	EnableGzip bool
	TLS        *tls.Config
	Timeout    time.Duration
}

// Client talks to a kvs server over one connection. It is safe for
// concurrent use; requests are serialized.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	opts Options
}

func Dial(addr string, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	dialer := &net.Dialer{Timeout: opts.Timeout}

	var conn net.Conn
	var err error
	if opts.TLS != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, opts.TLS)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return New(conn, opts), nil
}

// New wraps an established connection.
func New(conn net.Conn, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{conn: conn, opts: opts}
}

// Do sends one raw command line and returns the raw response.
func (c *Client) Do(line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := server.CompressMessage([]byte(line), c.opts.EnableGzip)
	if err != nil {
		return "", fmt.Errorf("compress: %w", err)
	}

	if err := c.conn.SetDeadline(time.Now().Add(c.opts.Timeout)); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}
	defer func() {
		_ = c.conn.SetDeadline(time.Time{})
	}()

	if err := util.WriteWithLength(c.conn, data); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}
	respBuf, err := util.ReadWithLength(c.conn)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	resp, err := server.DecompressMessage(respBuf, c.opts.EnableGzip)
	if err != nil {
		return "", fmt.Errorf("decompress: %w", err)
	}
	return string(resp), nil
}

func (c *Client) Set(key, value string) error {
	resp, err := c.Do(fmt.Sprintf("SET %s %s", controller.Quote(key), controller.Quote(value)))
	if err != nil {
		return err
	}
	return expectOK(resp)
}

// Get reports found=false when the server has no value for key.
func (c *Client) Get(key string) (string, bool, error) {
	resp, err := c.Do("GET " + controller.Quote(key))
	if err != nil {
		return "", false, err
	}
	if value, ok := controller.ParseValue(resp); ok {
		return value, true, nil
	}
	if resp == controller.RespKeyNotFound {
		return "", false, nil
	}
	if err := serverError(resp); err != nil {
		return "", false, err
	}
	return "", false, fmt.Errorf("unexpected response: %s", resp)
}

// Remove returns types.ErrKeyNotFound when key is absent.
func (c *Client) Remove(key string) error {
	resp, err := c.Do("RM " + controller.Quote(key))
	if err != nil {
		return err
	}
	if resp == controller.RespKeyNotFound {
		return types.ErrKeyNotFound
	}
	return expectOK(resp)
}

func (c *Client) Compact() error {
	resp, err := c.Do("COMPACT")
	if err != nil {
		return err
	}
	return expectOK(resp)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func expectOK(resp string) error {
	if err := serverError(resp); err != nil {
		return err
	}
	if resp != controller.RespOK {
		return fmt.Errorf("unexpected response: %s", resp)
	}
	return nil
}

// ServerError is an ERROR response returned by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

func (e *ServerError) Is(target error) bool {
	return target == types.ErrInvalidCommand && strings.HasPrefix(e.Message, types.ErrInvalidCommand.Error())
}

func serverError(resp string) error {
	msg, ok := strings.CutPrefix(resp, "ERROR: ")
	if !ok {
		return nil
	}
	return &ServerError{Message: msg}
}

// IsServerError reports whether err came back from the server rather
// than from the connection.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
