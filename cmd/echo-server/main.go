package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/geokapp/iris/endpoint"
)

func main() {
	var (
		host    = flag.String("host", "", "Host to listen on (empty for all interfaces)")
		service = flag.String("service", "9999", "Service name or port to listen on")
		proto   = flag.String("proto", "tcp", "Protocol: tcp or udp")
		backlog = flag.Int("backlog", 10, "TCP listen backlog")
		debug   = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	protocol := endpoint.TCP
	if *proto == "udp" {
		protocol = endpoint.UDP
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := endpoint.NewServer(protocol)
	if err := server.Start(ctx, *host, *service, *backlog); err != nil {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
	slog.Info("Server up and running", "addrs", server.Addrs(), "proto", protocol)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Shutdown signal received")
		server.Stop()
		cancel()
	}()

	buf := make([]byte, 4096)
	for {
		client := endpoint.NewClient(protocol)
		if err := server.GetClient(ctx, client); err != nil {
			slog.Error("get_client failed", "error", err)
			break
		}

		n, err := server.ReceiveData(buf, client)
		if err != nil {
			slog.Warn("Receive failed", "session", client.SessionID(), "error", err)
		} else {
			slog.Info("Client reached",
				"session", client.SessionID(),
				"remote", client.Peer().Addr,
				"bytes", n,
				"data", string(buf[:n]))
		}

		if err := client.Detach(); err != nil {
			slog.Warn("Detach failed", "session", client.SessionID(), "error", err)
		}
	}

	slog.Info("Stopping")
	if err := server.Stop(); err != nil {
		slog.Error("Failed to stop server", "error", err)
		os.Exit(1)
	}
	slog.Info("Stopped")
}
