package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/sealwire/internal/config"
	"github.com/danmuck/sealwire/internal/logging"
	"github.com/danmuck/sealwire/internal/observability"
	"github.com/danmuck/sealwire/internal/protocol"
	"github.com/danmuck/sealwire/internal/transport"
)

const usage = `usage: sealwire <serve|dial> [-config path] [flags]

  serve   accept sealed sessions and log every decoded item
  dial    connect, send stdin lines as messages ("/name arg" sends a control code)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "dial":
		err = runDial(ctx, os.Args[2:], os.Stdin)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sealwire: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func loadConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	path := fs.String("config", "", "path to a TOML config (defaults when empty)")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if strings.TrimSpace(*path) == "" {
		return config.Default(), nil
	}
	return config.Load(*path)
}

func runServe(ctx context.Context, args []string) error {
	fs := newFlagSet("serve")
	listen := fs.String("listen", "", "override listen address")
	echo := fs.Bool("echo", false, "echo every message back to its sender")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	srv, err := transport.NewServer(cfg.Transport, transport.PeerHandlerFunc(func(ctx context.Context, p *transport.Peer) {
		err := p.Run(ctx, func(item protocol.Item) error {
			logItem(p, item)
			if *echo && item.IsMessage() {
				return p.Send(item.Payload)
			}
			return nil
		})
		if err != nil {
			p.Logger().Warn().Str("reason", transport.FaultReason(err)).Msg("peer dropped")
		}
	}))
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	if addr := strings.TrimSpace(cfg.MetricsListen); addr != "" {
		group.Go(func() error {
			log.Info().Str("addr", addr).Msg("metrics listening")
			return observability.ServeMetrics(ctx, addr)
		})
	}
	group.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.Listen)
	})
	return group.Wait()
}

func runDial(ctx context.Context, args []string, in io.Reader) error {
	fs := newFlagSet("dial")
	address := fs.String("address", "", "override server address")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *address != "" {
		cfg.Address = *address
	}

	peer, err := transport.Dial(ctx, cfg.Address, cfg.Transport)
	if err != nil {
		return err
	}
	defer peer.Close()

	runErr := make(chan error, 1)
	go func() {
		runErr <- peer.Run(ctx, func(item protocol.Item) error {
			logItem(peer, item)
			return nil
		})
	}()
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sendLines(peer, in)
	}()

	select {
	case err := <-runErr:
		return err
	case err := <-sendErr:
		if err != nil && !errors.Is(err, transport.ErrConnectionClosed) {
			_ = peer.Close()
			<-runErr
			return err
		}
		shutdownErr := peer.Shutdown()
		if err := <-runErr; err != nil {
			return err
		}
		if errors.Is(shutdownErr, transport.ErrConnectionClosed) {
			return nil
		}
		return shutdownErr
	}
}

// sendLines sends each line of in until EOF. A line of the form
// "/name [arg]" sends the control code name.
func sendLines(peer *transport.Peer, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if peer.IsClosed() {
			return transport.ErrConnectionClosed
		}
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "/"); ok && name != "" {
			name, arg, _ := strings.Cut(name, " ")
			var payload []byte
			if arg != "" {
				payload = []byte(arg)
			}
			if err := peer.SendControl(name, payload); err != nil {
				if errors.Is(err, protocol.ErrUnknownControlCode) {
					peer.Logger().Warn().Str("code", name).Strs("known", peer.Table().Names()).Msg("unknown control code")
					continue
				}
				return err
			}
			continue
		}
		if err := peer.Send([]byte(line)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func logItem(p *transport.Peer, item protocol.Item) {
	ev := p.Logger().Info().Str("kind", item.Kind.String())
	if item.IsControl() {
		ev = ev.Str("code", item.Name).Uint8("code_id", item.Code)
		if len(item.Payload) > 0 {
			ev = ev.Str("arg", string(item.Payload))
		}
		ev.Msg("control")
		return
	}
	ev.Int("bytes", len(item.Payload)).Str("payload", string(item.Payload)).Msg("message")
}
