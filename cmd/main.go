package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/phi-deid/deid-go/core"
)

func main() {
	// Optional; environment may already be configured
	_ = godotenv.Load()

	input := "Patient John Smith was admitted on 2024-01-15. Contact: 0912-345-678, ID A123456789."

	policy, err := core.LoadPolicy("config/default_policy.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading policy: %v\n", err)
		os.Exit(1)
	}

	audit := core.NewAuditLogger(os.Stderr, core.AuditLogLevelStandard)

	orch, err := core.NewOrchestrator(core.DefaultOrchestratorConfig(), policy, nil, audit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing pipeline: %v\n", err)
		os.Exit(1)
	}
	defer orch.Close()

	result, err := orch.ProcessDocument(context.Background(), input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error processing document: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Entities Found:")
	for _, e := range result.Entities {
		fmt.Printf(" - %s (%.2f, %v): \"%s\" at [%d:%d]\n",
			e.Type, e.Confidence, e.Detectors, e.Value, e.StartIndex, e.EndIndex)
	}

	fmt.Println("\nMasked Output:")
	fmt.Println(result.Masked)
}
