package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"p2pxfer/models"
)

// cliConfirmer prompts on stdin for the human verification-code check
// pairing.Confirmer requires, grounded on the teacher's terminal-first
// main.go rather than its Qt GUI (out of scope here).
type cliConfirmer struct{}

func (cliConfirmer) Confirm(ctx context.Context, code string, peer models.EndpointId, peerDisplayName string) (bool, error) {
	fmt.Printf("Pairing with %q (%s)\nVerification code: %s\nAccept? [y/N]: ", peerDisplayName, peer, code)
	return promptYesNo(ctx)
}

// cliApprover prompts on stdin to accept or decline a browser upload
// routed through the HTTP ingest surface (C7).
type cliApprover struct{}

func (cliApprover) Approve(ctx context.Context, fileName string, fileSize int64, fromAddr string) (bool, error) {
	fmt.Printf("Incoming upload from %s: %q (%d bytes). Accept? [y/N]: ", fromAddr, fileName, fileSize)
	return promptYesNo(ctx)
}

// promptYesNo reads one line from stdin on a background goroutine so a
// cancelled ctx (timeout or shutdown) can still return promptly.
func promptYesNo(ctx context.Context) (bool, error) {
	answers := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answers <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-answers:
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes", nil
	}
}

// loggingCompletion logs a successfully completed browser upload. The
// ingest-mode decision of what to do next with the file (store it,
// forward it as an outbound transfer) is left to the operator per
// spec.md §9; this implementation only records that it happened.
type loggingCompletion struct {
	logger *log.Logger
}

func (l loggingCompletion) UploadComplete(path, fileName string, size int64) {
	l.logger.Infof("ingest upload complete: %s (%d bytes) -> %s", fileName, size, path)
}
