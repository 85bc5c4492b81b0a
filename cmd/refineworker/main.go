// Command refineworker is a minimal reference child process implementing
// the worker protocol from spec.md §6: read its assigned Request, announce
// readiness, emit periodic progress, and always produce a Result file
// before exit — even on panic.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/itsneelabh/gomind-refine/coordinator"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if len(os.Args) < 2 {
		log.Error().Msg("missing requestId argument")
		os.Exit(1)
	}
	requestID := os.Args[1]
	mailboxRoot := os.Getenv("REFINE_MAILBOX_ROOT")
	if mailboxRoot == "" {
		mailboxRoot = "."
	}

	result := coordinator.Result{RequestID: requestID, StartedAt: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			result.Status = coordinator.StatusCrash
			result.Reason = fmt.Sprintf("panic: %v", r)
		}
		result.FinishedAt = time.Now()
		writeResult(mailboxRoot, &result, log)
	}()

	req, err := readRequest(mailboxRoot, requestID)
	if err != nil {
		result.Status = coordinator.StatusCrash
		result.Reason = err.Error()
		return
	}

	log.Info().Bool("ready", true).Str("requestId", requestID).Msg("ready")

	objective := req.Objective
	for i := 0; i < 3; i++ {
		log.Info().Str("requestId", requestID).Int("step", i).Msg("progress")
		time.Sleep(50 * time.Millisecond)
	}

	result.Status = coordinator.StatusSuccess
	result.Output = map[string]string{"message": objective}
}

func readRequest(mailboxRoot, requestID string) (*coordinator.Request, error) {
	path := filepath.Join(mailboxRoot, "processing", requestID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	var req coordinator.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	return &req, nil
}

func writeResult(mailboxRoot string, result *coordinator.Result, log zerolog.Logger) {
	data, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal result")
		return
	}
	dst := filepath.Join(mailboxRoot, "results", result.RequestID+".json")
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Msg("failed to write result")
		return
	}
	if err := os.Rename(tmp, dst); err != nil {
		log.Error().Err(err).Msg("failed to rename result into place")
	}
}
