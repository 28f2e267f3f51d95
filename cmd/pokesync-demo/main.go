// Command pokesync-demo dials a room and logs (via the standard log
// package, to stderr) every applied poke's patch, every online/offline
// change, and the health status every 10s, so the client can be exercised end to end
// against a real server without writing a host application first.
// Grounded on the teacher's cmd/golive/main.go flag/signal-handling shape
// (see DESIGN.md): no HTTP server here, just a dial-and-print loop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gabrielmiguelok/pokesync/pkg/client"
	"github.com/gabrielmiguelok/pokesync/pkg/store"
)

func main() {
	origin := flag.String("origin", "ws://localhost:8080", "room server origin (ws:// or wss://)")
	roomID := flag.String("room", "demo-room", "room id to join")
	userID := flag.String("user", "", "user id (defaults to demo-user-<pid>)")
	auth := flag.String("auth", "", "auth token carried on connect")
	wireFormat := flag.String("wire", "json", "wire format: json or msgpack")
	flag.Parse()

	if *userID == "" {
		*userID = fmt.Sprintf("demo-user-%d", os.Getpid())
	}

	st := store.NewMemory("", *auth)

	st.AddMutator("echo", func(ctx context.Context, args json.RawMessage) (any, error) {
		log.Printf("mutator: echo %s", string(args))
		return nil, nil
	})

	c, err := client.New(st, client.Options{
		UserID:       *userID,
		RoomID:       *roomID,
		SocketOrigin: *origin,
		Auth:         *auth,
		WireFormat:   *wireFormat,
		OnOnlineChange: func(online bool) {
			log.Printf("connection: online=%v", online)
		},
		OnError: func(err error) {
			log.Printf("client error: %v", err)
		},
	})
	if err != nil {
		log.Fatalf("failed to start client: %v", err)
	}
	defer c.Close()

	unsubscribe := c.ExperimentalWatch(func(data any) {
		log.Printf("poke applied: %+v", data)
	})
	defer unsubscribe()

	log.Printf("pokesync-demo: joining room %q at %s as %s (clientID=%s)", *roomID, *origin, *userID, c.ClientID())

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			log.Println("shutting down")
			return
		case <-ticker.C:
			status := c.HealthCheck(context.Background())
			log.Printf("health: %s", status.Status)
		}
	}
}
