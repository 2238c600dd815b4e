// Command seed-responders loads a roster of responders for local development.
//
// Usage: go run ./scripts/seed-responders testdata/responders.json
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/triage-engine/internal/responders"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

type roster struct {
	OrgID      string                 `json:"org_id"`
	Responders []responders.Responder `json:"responders"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/seed-responders <roster.json>")
		os.Exit(1)
	}
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		fmt.Println("DATABASE_URL is required")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Printf("read roster: %v\n", err)
		os.Exit(1)
	}
	var r roster
	if err := json.Unmarshal(data, &r); err != nil {
		fmt.Printf("parse roster: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		fmt.Printf("connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := responders.NewPostgresStore(pool, logging.New("info"))
	created := 0
	for _, resp := range r.Responders {
		if resp.OrgID == "" {
			resp.OrgID = r.OrgID
		}
		saved, err := store.Create(ctx, resp)
		if err != nil {
			fmt.Printf("skip %s: %v\n", resp.Name, err)
			continue
		}
		created++
		fmt.Printf("created %s (%s) %s\n", saved.Name, saved.Role, saved.ID)
	}
	fmt.Printf("seeded %d of %d responders for %s\n", created, len(r.Responders), r.OrgID)
}
