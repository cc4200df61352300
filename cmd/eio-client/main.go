// Command eio-client connects to an Engine.IO server, prints every
// message it receives, and disconnects gracefully on SIGINT.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eio-go/client/engine"
)

func main() {
	url := flag.String("url", "http://localhost:3000", "server URL")
	path := flag.String("path", "engine.io", "Engine.IO endpoint path")
	noUpgrade := flag.Bool("no-upgrade", false, "stay on polling, never attempt a websocket upgrade")
	flag.Parse()

	allowed := []string{"polling", "websocket"}
	if *noUpgrade {
		allowed = []string{"polling"}
	}

	client := engine.NewClient(nil)

	client.On(engine.EventConnect, engine.ConnectHandler(func() {
		fmt.Fprintf(os.Stderr, "connected over %s\n", client.Transport())
	}))
	client.On(engine.EventMessage, engine.MessageHandler(func(data any) {
		fmt.Printf("%v\n", data)
	}))
	client.On(engine.EventDisconnect, engine.DisconnectHandler(func(reason error) {
		if reason != nil {
			fmt.Fprintf(os.Stderr, "disconnected: %v\n", reason)
			return
		}
		fmt.Fprintln(os.Stderr, "disconnected")
	}))

	if err := client.Connect(*url, nil, allowed, *path); err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		client.Disconnect(false)
	}()

	client.Wait()
}
