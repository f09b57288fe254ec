package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ineilsen/agent-builder-sub002/internal/chat"
	"github.com/ineilsen/agent-builder-sub002/internal/trace"
	"github.com/ineilsen/agent-builder-sub002/internal/transport"
)

var chatCmd = &cobra.Command{
	Use:   "chat <network>",
	Short: "Start an interactive chat with an agent network",
	Long: `Connect to a network and chat with it. Lines are sent as user messages.

In-chat commands:
  /stats   show llm call and response time totals
  /trace   show the trace of the last answered turn
  /log     show the execution log
  /new     start a new session on the same network
  /quit    leave`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	network := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsSrv := serveMetrics(cfg.MetricsAddr)
	defer shutdown(metricsSrv)

	opts := []chat.Option{chat.WithClearDelay(cfg.ActiveAgentClear)}
	if cfg.TraceDatabaseURL != "" {
		store, err := openArchive()
		if err != nil {
			slog.Warn("trace archive unavailable, traces will not be kept", "error", err)
		} else {
			defer store.Close()
			rec := trace.NewRecorder(store)
			defer rec.Close()
			opts = append(opts, chat.WithRecorder(rec))
		}
	}

	conv := chat.New(opts...)
	defer conv.Close()

	out := cmd.OutOrStdout()
	var (
		mu        sync.Mutex
		lastTrace *trace.Trace
	)
	conv.OnMessage(func(m chat.Message) {
		mu.Lock()
		defer mu.Unlock()
		if m.Trace != nil {
			lastTrace = m.Trace
		}
		fmt.Fprintln(out, renderMessage(m))
	})

	mgr := transport.NewManager(transport.Config{
		APIBase:     cfg.APIBase,
		WSBase:      cfg.WSBase,
		DialTimeout: cfg.DialTimeout,
		HTTPClient:  transport.NewPooledHTTPClient(httpPoolSize, 0),
	}, conv)
	defer mgr.Disconnect()

	if err := mgr.Connect(ctx, network); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/stats":
			fmt.Fprintln(out, renderStats(conv.Stats(), conv.ActiveAgents()))
			continue
		case "/log":
			fmt.Fprint(out, renderLog(conv.Log()))
			continue
		case "/trace":
			mu.Lock()
			if lastTrace == nil {
				fmt.Fprintln(out, systemStyle.Render("no trace yet"))
			} else {
				fmt.Fprint(out, renderTrace(*lastTrace))
			}
			mu.Unlock()
			continue
		case "/new":
			conv.RegenerateSession()
			mu.Lock()
			lastTrace = nil
			mu.Unlock()
			if err := mgr.Connect(ctx, network); err != nil {
				return err
			}
			continue
		}

		err := mgr.Send(ctx, line)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrTurnCancelled):
			if ctx.Err() != nil {
				return nil
			}
		case errors.Is(err, transport.ErrNotConnected):
			return err
		default:
			// the failure is already in the conversation as a system message
			slog.Debug("turn failed", "network", network, "error", err)
		}
	}
}
