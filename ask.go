package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Run one turn in-process against memory stores",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		a, err := bootstrap(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		sessionID, _ := cmd.Flags().GetString("session")
		sink := &consoleSink{
			out:       cmd.OutOrStdout(),
			in:        bufio.NewReader(cmd.InOrStdin()),
			confirmer: a.interceptor,
		}
		_, err = a.orchestrator.HandleTurn(ctx, sessionID, strings.Join(args, " "), sink)
		return err
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().String("session", "cli", "session id")
}

// consoleSink prints frames and answers confirmation requests from stdin.
// The decision channel is buffered, so resolving inside Emit does not block.
type consoleSink struct {
	mu        sync.Mutex
	out       io.Writer
	in        *bufio.Reader
	confirmer contractx.Confirmer
}

func (s *consoleSink) Emit(ctx context.Context, frame contractx.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch frame.Type {
	case contractx.FrameTextDelta:
		fmt.Fprint(s.out, frame.Delta)
	case contractx.FrameConfirmationRequest:
		req := frame.Confirmation
		fmt.Fprintf(s.out, "\n[%s] wants to run %s %s. approve? [y/N] ", req.Expert, req.Tool, req.Arguments)
		answer, err := s.in.ReadString('\n')
		if err != nil && answer == "" {
			return fmt.Errorf("read confirmation: %w", err)
		}
		decision := contractx.DecisionDecline
		if a := strings.ToLower(strings.TrimSpace(answer)); a == "y" || a == "yes" {
			decision = contractx.DecisionApprove
		}
		return s.confirmer.Resolve(ctx, req.CorrelationID, decision)
	case contractx.FrameError:
		fmt.Fprintf(s.out, "\n%s\n", frame.Message)
	case contractx.FrameFinish:
		fmt.Fprintln(s.out)
	}
	return nil
}
