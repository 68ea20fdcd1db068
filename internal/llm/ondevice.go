package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// The on-device provider shells out to a platform CLI bridge that fronts the
// host's foundation model. JSON request on stdin, JSON response on stdout.
// The bridge keeps no state; one process per call.
const (
	ondeviceContextChars = 12800
	ondeviceCallTimeout  = 30 * time.Second
)

// OnDevice runs prompts through the local foundation-model bridge binary.
type OnDevice struct {
	bridgePath string

	mu       sync.Mutex
	checked  bool
	usable   bool
	resolved string
}

// NewOnDevice creates the provider. bridgePath may be empty; the default
// locations are probed on first use.
func NewOnDevice(bridgePath string) *OnDevice {
	return &OnDevice{bridgePath: bridgePath}
}

// Name returns the provider name.
func (p *OnDevice) Name() string { return "ondevice" }

// ContextChars is the bridge's working prompt budget.
func (p *OnDevice) ContextChars() int { return ondeviceContextChars }

// IsAvailable requires the platform floor (an OS with a system foundation
// model) and a bridge binary that exists or can be built from its source.
func (p *OnDevice) IsAvailable(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.checked {
		return p.usable
	}
	p.checked = true

	if runtime.GOOS != "darwin" {
		return false
	}

	path, err := p.ensureBridgeLocked(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("On-device bridge not usable")
		return false
	}
	p.resolved = path
	p.usable = true
	return true
}

// ensureBridgeLocked finds the bridge binary, compiling it from a sibling
// Swift source when only that exists.
func (p *OnDevice) ensureBridgeLocked(ctx context.Context) (string, error) {
	candidates := []string{p.bridgePath}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".darby", "bin", "fm-bridge"))
	}
	if found, err := exec.LookPath("darby-fm-bridge"); err == nil {
		candidates = append(candidates, found)
	}

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
		// Binary absent: build it when the source sits next to the target
		// and a Swift compiler is on PATH.
		source := candidate + ".swift"
		if _, err := os.Stat(source); err != nil {
			continue
		}
		swiftc, err := exec.LookPath("swiftc")
		if err != nil {
			continue
		}
		buildCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		out, err := exec.CommandContext(buildCtx, swiftc, "-O", "-o", candidate, source).CombinedOutput()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("output", string(out)).Msg("Bridge compile failed")
			continue
		}
		log.Info().Str("path", candidate).Msg("Compiled on-device bridge from source")
		return candidate, nil
	}
	return "", fmt.Errorf("no bridge binary at any candidate path")
}

type bridgeRequest struct {
	Prompt       string `json:"prompt"`
	Instructions string `json:"instructions,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
}

type bridgeResponse struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Generate runs one bridge invocation.
func (p *OnDevice) Generate(ctx context.Context, req Request) (*Response, error) {
	p.mu.Lock()
	path := p.resolved
	p.mu.Unlock()
	if path == "" {
		return nil, ErrUnavailable
	}

	payload, err := json.Marshal(bridgeRequest{
		Prompt:       req.Prompt,
		Instructions: req.Instructions,
		MaxTokens:    req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal bridge request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, ondeviceCallTimeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, path)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("bridge call: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	var resp bridgeResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse bridge response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("bridge error: %s", resp.Error)
	}

	// The bridge reports no usage; tokens are estimated as chars/4.
	return &Response{
		Content:      resp.Content,
		Model:        "system-fm",
		InputTokens:  EstimateTokens(req.Prompt) + EstimateTokens(req.Instructions),
		OutputTokens: EstimateTokens(resp.Content),
	}, nil
}
