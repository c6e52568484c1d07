// Command rudpcat is a minimal byte-relay demo over the socket façade: it
// does not define any application-layer message grammar of its own — it
// just moves whatever bytes arrive on stdin to the peer and whatever
// bytes arrive from the peer to stdout, for either Protocol variant.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arnebp/rudp/socket"
)

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listen   = flag.Bool("l", false, "listen/accept instead of connect")
		iface    = flag.String("i", "127.0.0.1", "interface to bind (listen mode) or host to dial (connect mode)")
		port     = flag.Uint("p", 7000, "port")
		rdtProto = flag.Bool("rdt", true, "use the reliable-datagram protocol (false selects the stream protocol)")
		cookie   = flag.Bool("cookie", false, "require a handshake cookie in listen mode")
		verbose  = flag.Bool("v", false, "verbose logging to stderr")
	)
	flag.Parse()

	var log *slog.Logger
	if *verbose {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	sockets, err := socket.New(socket.Config{Logger: log, RequireHandshakeCookie: *cookie})
	if err != nil {
		return err
	}

	proto := socket.Stream
	if *rdtProto {
		proto = socket.ReliableDatagram
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		cancel()
	}()

	var handle int
	if *listen {
		fmt.Fprintf(os.Stderr, "accepting on %s:%d (%s)...\n", *iface, *port, proto)
		handle, err = sockets.Accept(ctx, *iface, uint16(*port), proto)
	} else {
		fmt.Fprintf(os.Stderr, "connecting to %s:%d (%s)...\n", *iface, *port, proto)
		handle, err = sockets.Connect(ctx, *iface, uint16(*port), proto)
	}
	if err != nil {
		return err
	}
	defer sockets.Disconnect(handle)
	fmt.Fprintln(os.Stderr, "connected")

	errCh := make(chan error, 2)
	go func() { errCh <- pump(ctx, os.Stdin, func(b []byte) (int, error) { return sockets.Send(ctx, handle, b) }) }()
	go func() {
		buf := make([]byte, 2048)
		for ctx.Err() == nil {
			n, err := sockets.Recv(handle, buf)
			if err != nil {
				errCh <- err
				return
			}
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
		}
		errCh <- ctx.Err()
	}()

	return <-errCh
}

func pump(ctx context.Context, r io.Reader, send func([]byte) (int, error)) error {
	buf := make([]byte, 2048)
	for ctx.Err() == nil {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := send(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return ctx.Err()
}
