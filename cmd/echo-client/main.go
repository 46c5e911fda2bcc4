package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/geokapp/iris/endpoint"
)

func main() {
	var (
		host    = flag.String("host", "localhost", "Server host")
		service = flag.String("service", "9999", "Service name or port")
		proto   = flag.String("proto", "tcp", "Protocol: tcp or udp")
		message = flag.String("message", "Hello World!", "Message to send")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	slog.SetDefault(logger)

	protocol := endpoint.TCP
	if *proto == "udp" {
		protocol = endpoint.UDP
	}

	ctx := context.Background()
	client := endpoint.NewClient(protocol)
	if err := client.Attach(ctx, *host, *service); err != nil {
		slog.Error("Error connecting with the server", "error", err)
		os.Exit(1)
	}

	n, err := client.SendData([]byte(*message))
	if err != nil {
		slog.Error("Send failed", "error", err)
	} else {
		slog.Info("Sent", "bytes", n, "remote", client.Peer().Addr)
	}

	slog.Info("Detaching")
	if err := client.Detach(); err != nil {
		slog.Error("Detach failed", "error", err)
		os.Exit(1)
	}
}
