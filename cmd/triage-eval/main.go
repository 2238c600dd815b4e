// Command triage-eval runs sample messages through the configured assessment
// provider and prints the routing each one would receive. It never writes to a
// store or notifies anyone.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/triage-engine/cmd/mainconfig"
	"github.com/wolfman30/triage-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/triage-engine/internal/config"
	"github.com/wolfman30/triage-engine/internal/llm"
	"github.com/wolfman30/triage-engine/internal/triage"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

var defaultSamples = []string{
	"I had a long day but I'm doing okay",
	"I always mess everything up, nothing ever works out for me",
	"I can't stop panicking and my chest feels tight",
	"I don't want to be here anymore",
}

type evaluation struct {
	Text           string                 `json:"text"`
	Assessment     triage.Assessment      `json:"assessment"`
	Decision       triage.Decision        `json:"decision"`
	Classification *triage.Classification `json:"classification,omitempty"`
	ElapsedMS      int64                  `json:"elapsed_ms"`
}

func main() {
	stdin := flag.Bool("stdin", false, "read one message per line from stdin")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	awsCfg, err := mainconfig.LoadOptionalAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	client, closers, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		log.Fatalf("build llm client: %v", err)
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	assessor := triage.NewAssessor(client, logger,
		triage.WithAssessorTimeout(cfg.AssessmentTimeout),
		triage.WithAssessorModels(llm.NewModelRotator(cfg.LLMModels)),
	)

	samples := flag.Args()
	if *stdin {
		samples = readLines(os.Stdin)
	}
	if len(samples) == 0 {
		samples = defaultSamples
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, text := range samples {
		if err := enc.Encode(evaluate(ctx, assessor, text)); err != nil {
			log.Fatalf("write result: %v", err)
		}
	}
	if client == nil {
		fmt.Fprintln(os.Stderr, "no LLM provider configured: results reflect keyword analysis only")
	}
}

func evaluate(ctx context.Context, assessor *triage.Assessor, text string) evaluation {
	start := time.Now()
	a := assessor.Assess(ctx, text, nil)
	out := evaluation{
		Text:       text,
		Assessment: a,
		Decision:   triage.RouteTurn(a),
		ElapsedMS:  time.Since(start).Milliseconds(),
	}
	if out.Decision.Route == triage.RouteCrisis {
		c := triage.Classify(a)
		out.Classification = &c
	}
	return out
}

func readLines(r io.Reader) []string {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
