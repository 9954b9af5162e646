package connector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	network "github.com/lk2023060901/linechat/internal/network"
	"github.com/lk2023060901/linechat/internal/network/codec"
	"github.com/lk2023060901/linechat/pkg/log"
	"github.com/lk2023060901/linechat/pkg/util/merr"
	"github.com/lk2023060901/linechat/pkg/util/retry"
)

// Config 描述终端客户端的配置。
type Config struct {
	// Channel 为发送消息时使用的频道前缀。
	Channel string
	// DialAttempts 为拨号的最大尝试次数。
	DialAttempts uint
	// DialTimeout 为单次拨号的超时时间。
	DialTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		Channel:      codec.DefaultChannel,
		DialAttempts: 3,
		DialTimeout:  5 * time.Second,
	}
}

// Client 是交互式终端客户端：读取本地输入转发到服务器，并把服务器下发的文本原样输出。
type Client struct {
	log.Binder

	cfg    Config
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

// New 创建一个客户端，in/out/errOut 通常为标准输入、标准输出与标准错误。
func New(cfg Config, in io.Reader, out, errOut io.Writer) *Client {
	def := defaultConfig()
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = def.DialAttempts
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	return &Client{
		cfg:    cfg,
		in:     bufio.NewReader(in),
		out:    out,
		errOut: errOut,
	}
}

// Run 连接 host:port，完成用户名注册后进入收发循环。
//
// 返回 nil 表示正常结束：本地输入 EOF、服务器关闭连接或 ctx 取消。
// 拨号失败、用户名缺失或为空、以及读写失败时返回 error。
func (c *Client) Run(ctx context.Context, host, port string) error {
	addr := net.JoinHostPort(host, port)
	logger := c.Logger().With(zap.String("addr", addr))

	conn, err := c.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	name, err := c.promptName()
	if err != nil {
		return err
	}
	if _, err := conn.Write(codec.RegistrationLine(name)); err != nil {
		return merr.WrapErrIoFailed(addr, err)
	}
	fmt.Fprintf(c.out, "Connected to %s:%s as '%s'.\n", host, port, name)
	logger.Debug("registered", log.FieldUser(name), log.FieldChannel(c.cfg.Channel))

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- c.pump(conn)
	}()
	inputDone := make(chan error, 1)
	go func() {
		inputDone <- c.forward(conn)
	}()

	select {
	case err := <-serverDone:
		if err != nil {
			logger.Warn("read from server failed", log.FieldStage(network.StageRecv.String()), zap.Error(err))
			return merr.WrapErrIoFailed(addr, err)
		}
		fmt.Fprintln(c.out, "Server closed connection.")
		return nil
	case err := <-inputDone:
		_ = conn.Close()
		<-serverDone
		if err != nil {
			logger.Warn("write to server failed", log.FieldStage(network.StageSend.String()), zap.Error(err))
			return merr.WrapErrIoFailed(addr, err)
		}
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		<-serverDone
		return nil
	}
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}

	var conn net.Conn
	err := retry.Do(ctx, func() error {
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		return err
	}, retry.Attempts(c.cfg.DialAttempts), retry.Sleep(100*time.Millisecond))
	if err != nil {
		return nil, merr.WrapErrIoFailed(addr, err)
	}
	return conn, nil
}

// promptName 读取用户名：EOF 与空用户名都视为失败，超长部分按字节截断。
func (c *Client) promptName() (string, error) {
	fmt.Fprintf(c.out, "Enter username (max %d chars): ", codec.MaxName-1)

	line, err := c.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		fmt.Fprintln(c.errOut, "No username? Exiting.")
		return "", merr.WrapErrParameterMissing("username")
	}
	name := string(codec.TrimEOL([]byte(line)))
	if name == "" {
		fmt.Fprintln(c.errOut, "Empty username not allowed. Exiting.")
		return "", merr.WrapErrParameterInvalidMsg("empty username")
	}
	return codec.Truncate(name, codec.MaxName-1), nil
}

// pump 将服务器下发的字节原样写到输出，服务器关闭时返回 nil。
func (c *Client) pump(conn net.Conn) error {
	_, err := io.Copy(c.out, conn)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// forward 逐行读取本地输入，以 "<channel>:<line>" 发给服务器，输入 EOF 时返回 nil。
// 空行不发送。
func (c *Client) forward(conn net.Conn) error {
	for {
		line, err := c.in.ReadString('\n')
		if text := codec.TrimEOL([]byte(line)); len(text) > 0 {
			if _, werr := conn.Write(codec.DirectiveLine(c.cfg.Channel, string(text))); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
