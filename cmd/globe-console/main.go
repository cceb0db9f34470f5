package main

import (
	"context"
	"flag"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/signalsfoundry/globe-engine/internal/console"
	"github.com/signalsfoundry/globe-engine/internal/logging"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "Websocket URL of a running globe server")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	client, err := console.Dial(ctx, *url)
	if err != nil {
		log.Error(ctx, "failed to connect", logging.String("url", *url), logging.Err(err))
		os.Exit(1)
	}

	p := tea.NewProgram(console.New(client, client.WaitMsg()), tea.WithAltScreen())
	_, err = p.Run()
	client.Close()
	if err != nil {
		log.Error(ctx, "console exited", logging.Err(err))
		os.Exit(1)
	}
}
