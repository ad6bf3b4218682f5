package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/cheese-arena/internal/matchclient"
	"github.com/park285/cheese-arena/pkg/protocol"
)

func main() {
	baseURL := os.Getenv("ARENA_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client := matchclient.New(baseURL, matchclient.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := client.Health(ctx); err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	log.Println("/healthz ok")

	white, err := client.Create(ctx, matchclient.CreateRequest{Preset: "blitz_3", Color: "white", Identity: "guest:check-white"})
	if err != nil {
		log.Fatalf("create error: %v", err)
	}
	log.Printf("created code=%s seat=%s", white.Code, white.Seat)

	black, err := client.Join(ctx, white.Code, "guest:check-black", "")
	if err != nil {
		log.Fatalf("join error: %v", err)
	}
	log.Printf("joined seat=%s status=%s", black.Seat, black.Session.Status)

	ws, err := matchclient.Dial(ctx, client.StreamURL(white.Code, "guest:check-white", white.SeatToken), nil)
	if err != nil {
		log.Fatalf("stream dial error: %v", err)
	}
	defer ws.Close()

	first, err := ws.Next(ctx)
	if err != nil {
		log.Fatalf("stream read error: %v", err)
	}
	if _, ok := first.(protocol.Snapshot); !ok {
		log.Fatalf("first frame was %T, want snapshot", first)
	}
	log.Println("stream snapshot ok")

	v := int64(0)
	if err := ws.Send(ctx, protocol.Move{UCI: "e2e4", Version: &v}); err != nil {
		log.Fatalf("send move error: %v", err)
	}
	for {
		msg, err := ws.Next(ctx)
		if err != nil {
			log.Fatalf("stream read error: %v", err)
		}
		if mv, ok := msg.(protocol.MoveApplied); ok {
			fmt.Printf("move_applied san=%s version=%d clocks=%d/%d\n", mv.SAN, mv.Version, mv.Clocks.WhiteMs, mv.Clocks.BlackMs)
			break
		}
		if rej, ok := msg.(protocol.Rejected); ok {
			log.Fatalf("move rejected: %s (%s)", rej.Reason, rej.Message)
		}
	}

	final, err := client.Resign(ctx, white.Code, "guest:check-black", black.SeatToken)
	if err != nil {
		log.Fatalf("resign error: %v", err)
	}
	log.Printf("finished result=%s reason=%s", final.Result, final.Reason)
}
