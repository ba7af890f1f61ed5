package gpio

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultSocketPath is where the local GPIO daemon listens. On hardware this
// is a small privileged helper process that owns the actual memory-mapped
// GPIO registers; harvestd talks to it over msgpack-rpc exactly the way the
// teacher's MCU client talks to the Arduino router.
const DefaultSocketPath = "/var/run/gpiod.sock"

const (
	readTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
)

// msgpack-rpc message types (same wire framing as the MCU protocol this is
// adapted from: [type, msgid, method, params] / [type, msgid, error, result]).
const (
	msgTypeRequest  = 0
	msgTypeResponse = 1
)

// RPCError is an error returned by the GPIO daemon.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return fmt.Sprintf("gpiod error %d: %s", e.Code, e.Message) }

// RPCDriver is the real Driver implementation: a client over a Unix socket
// to a local GPIO daemon, speaking msgpack-rpc. It reconnects lazily on the
// next call, with no backoff between attempts, rather than blocking construction, mirroring
// the teacher's MCU client (internal/mcu/client.go).
type RPCDriver struct {
	socketPath string
	log        zerolog.Logger

	mu          sync.Mutex
	conn        net.Conn
	isConnected bool
	msgID       uint32
}

// NewRPCDriver dials socketPath (DefaultSocketPath if empty). It does not
// fail construction if the daemon isn't up yet; the first real call retries
// the connection.
func NewRPCDriver(socketPath string, log zerolog.Logger) *RPCDriver {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	d := &RPCDriver{
		socketPath: socketPath,
		log:        log.With().Str("component", "gpio_rpc_driver").Logger(),
	}
	if err := d.connect(); err != nil {
		d.log.Warn().Err(err).Str("socket", socketPath).Msg("gpiod not reachable yet, will retry on first call")
	}
	return d
}

func (d *RPCDriver) connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectLocked()
}

func (d *RPCDriver) connectLocked() error {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
		d.isConnected = false
	}
	if _, err := os.Stat(d.socketPath); err != nil {
		return err
	}
	conn, err := net.Dial("unix", d.socketPath)
	if err != nil {
		return err
	}
	d.conn = conn
	d.isConnected = true
	return nil
}

func (d *RPCDriver) getConn() (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil && d.isConnected {
		return d.conn, nil
	}
	if err := d.connectLocked(); err != nil {
		return nil, err
	}
	return d.conn, nil
}

func (d *RPCDriver) markDisconnected() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.isConnected = false
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

func (d *RPCDriver) nextMsgID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgID++
	return d.msgID
}

// call performs a synchronous msgpack-rpc request and returns the raw result.
func (d *RPCDriver) call(method string, params ...interface{}) (interface{}, error) {
	conn, err := d.getConn()
	if err != nil {
		return nil, fmt.Errorf("gpiod connect: %w", err)
	}

	req := []interface{}{msgTypeRequest, d.nextMsgID(), method, params}
	if err := d.send(conn, req); err != nil {
		d.markDisconnected()
		return nil, fmt.Errorf("gpiod send: %w", err)
	}

	resp, err := d.recv(conn)
	if err != nil {
		d.markDisconnected()
		return nil, fmt.Errorf("gpiod recv: %w", err)
	}
	if len(resp) < 4 {
		return nil, fmt.Errorf("gpiod: malformed response")
	}
	if resp[2] != nil {
		if errData, ok := resp[2].([]interface{}); ok && len(errData) >= 2 {
			code, _ := toInt(errData[0])
			msg, _ := errData[1].(string)
			return nil, &RPCError{Code: code, Message: msg}
		}
		return nil, fmt.Errorf("gpiod error: %v", resp[2])
	}
	return resp[3], nil
}

func (d *RPCDriver) send(conn io.Writer, msg interface{}) error {
	if nc, ok := conn.(net.Conn); ok {
		nc.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return msgpack.NewEncoder(conn).Encode(msg)
}

func (d *RPCDriver) recv(conn io.Reader) ([]interface{}, error) {
	if nc, ok := conn.(net.Conn); ok {
		nc.SetReadDeadline(time.Now().Add(readTimeout))
	}
	var resp []interface{}
	if err := msgpack.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (d *RPCDriver) Configure(pin int, mode Mode, initialLevel bool) error {
	_, err := d.call("configure", pin, string(mode), initialLevel)
	if err != nil {
		return &DriverFault{Pin: pin, Op: "configure", Err: err}
	}
	return nil
}

func (d *RPCDriver) Write(pin int, level bool) error {
	_, err := d.call("write", pin, level)
	if err != nil {
		return &DriverFault{Pin: pin, Op: "write", Err: err}
	}
	return nil
}

func (d *RPCDriver) Read(pin int) (bool, error) {
	result, err := d.call("read", pin)
	if err != nil {
		return false, &DriverFault{Pin: pin, Op: "read", Err: err}
	}
	level, ok := result.(bool)
	if !ok {
		return false, &DriverFault{Pin: pin, Op: "read", Err: fmt.Errorf("unexpected result type %T", result)}
	}
	return level, nil
}

func (d *RPCDriver) SetPWM(pin int, dutyPercent int) error {
	if dutyPercent < 0 {
		dutyPercent = 0
	}
	if dutyPercent > 100 {
		dutyPercent = 100
	}
	_, err := d.call("set_pwm", pin, dutyPercent)
	if err != nil {
		return &DriverFault{Pin: pin, Op: "set_pwm", Err: err}
	}
	return nil
}

func (d *RPCDriver) Cleanup(pin int) error {
	_, err := d.call("cleanup", pin)
	if err != nil {
		return &DriverFault{Pin: pin, Op: "cleanup", Err: err}
	}
	return nil
}

func (d *RPCDriver) CleanupAll() error {
	_, err := d.call("cleanup_all")
	if err != nil {
		return &DriverFault{Pin: -1, Op: "cleanup_all", Err: err}
	}
	return nil
}

// Close releases the underlying socket connection.
func (d *RPCDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		err := d.conn.Close()
		d.conn = nil
		d.isConnected = false
		return err
	}
	return nil
}
