package deid

import (
	"context"
	"fmt"
	"os"

	"github.com/phi-deid/deid-go/core"
	"github.com/phi-deid/deid-go/llm"
)

// ConfigureMCPServer configures the MCP server to use for extraction
// It can be called once at startup to set the MCP server details
func ConfigureMCPServer(serverPath string) {
	os.Setenv("MCP_SERVER_PATH", serverPath)
}

// RunDeid runs the detector-only pipeline over one document using the
// policy at policyPath ("" loads the built-in default policy).
func RunDeid(input string, policyPath string) (*core.DocumentResult, error) {
	policy, err := loadPolicy(policyPath)
	if err != nil {
		return nil, err
	}

	orch, err := core.NewOrchestrator(core.DefaultOrchestratorConfig(), policy, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer orch.Close()

	result, err := orch.ProcessDocument(context.Background(), input)
	if err != nil {
		return nil, fmt.Errorf("de-identification failed: %w", err)
	}

	return result, nil
}

// RunDeidWithExtractor runs the full pipeline with an MCP-backed
// semantic extractor alongside the local detectors. An empty
// mcpServerPath falls back to auto-discovery.
func RunDeidWithExtractor(input string, policyPath string, mcpServerPath string, config *llm.ExtractionConfig) (*core.DocumentResult, error) {
	policy, err := loadPolicy(policyPath)
	if err != nil {
		return nil, err
	}

	extractor, err := llm.NewMCPExtractor(mcpServerPath, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MCP extractor: %w", err)
	}
	defer extractor.Close()

	orch, err := core.NewOrchestrator(core.DefaultOrchestratorConfig(), policy, llm.NewAdapter(extractor, config), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer orch.Close()

	result, err := orch.ProcessDocument(context.Background(), input)
	if err != nil {
		return nil, fmt.Errorf("de-identification failed: %w", err)
	}

	return result, nil
}

// RunDeidBatch runs the detector-only pipeline over tabular rows,
// flattening each row into one document.
func RunDeidBatch(rows []map[string]string, policyPath string) (*core.BatchResult, error) {
	policy, err := loadPolicy(policyPath)
	if err != nil {
		return nil, err
	}

	orch, err := core.NewOrchestrator(core.DefaultOrchestratorConfig(), policy, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer orch.Close()

	return orch.ProcessBatch(context.Background(), rows)
}

func loadPolicy(policyPath string) (*core.MaskingPolicy, error) {
	if policyPath == "" {
		return core.DefaultPolicy(), nil
	}
	policy, err := core.LoadPolicy(policyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	return policy, nil
}
