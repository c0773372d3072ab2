package wallet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// PromptApprover asks for confirmation on a terminal.
type PromptApprover struct {
	mu      sync.Mutex
	scanner *bufio.Scanner
	out     io.Writer
}

// NewPromptApprover reads answers from in and writes questions to out.
func NewPromptApprover(in io.Reader, out io.Writer) *PromptApprover {
	return &PromptApprover{scanner: bufio.NewScanner(in), out: out}
}

// ApproveConnect implements Approver.
func (a *PromptApprover) ApproveConnect(ctx context.Context, origin string, account solana.PublicKey) (bool, error) {
	return a.ask(ctx, fmt.Sprintf("%s wants to connect to wallet %s. Allow? [y/N]: ", origin, account))
}

// ApproveSign implements Approver.
func (a *PromptApprover) ApproveSign(ctx context.Context, origin string, account solana.PublicKey, size int) (bool, error) {
	return a.ask(ctx, fmt.Sprintf("%s requests a signature from %s (%d byte transaction). Approve? [y/N]: ", origin, account, size))
}

func (a *PromptApprover) ask(ctx context.Context, question string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprint(a.out, question)
	if !a.scanner.Scan() {
		if err := a.scanner.Err(); err != nil {
			return false, err
		}
		return false, io.EOF
	}
	answer := strings.ToLower(strings.TrimSpace(a.scanner.Text()))
	return answer == "y" || answer == "yes", nil
}

// AutoApprover approves every request. It is meant for local
// development against the ledger emulator.
type AutoApprover struct{}

// ApproveConnect implements Approver.
func (AutoApprover) ApproveConnect(context.Context, string, solana.PublicKey) (bool, error) {
	return true, nil
}

// ApproveSign implements Approver.
func (AutoApprover) ApproveSign(context.Context, string, solana.PublicKey, int) (bool, error) {
	return true, nil
}
