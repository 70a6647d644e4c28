package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/voicepay/internal/navigation"
	"github.com/loqalabs/voicepay/internal/protocol"
	"github.com/loqalabs/voicepay/internal/router"
	"github.com/loqalabs/voicepay/internal/transactions"
	"github.com/spf13/cobra"
)

var (
	addr    string
	timeout time.Duration
	target  string
	digits  string
	epoch   int64
)

var rootCmd = &cobra.Command{
	Use:          "voicepayctl",
	Short:        "Drive a VoicePay kiosk from the command line",
	Long:         "voicepayctl talks to a running voicepayd over its presenter HTTP API: inspect the screen, press buttons, toggle the microphone and list transactions.",
	SilenceUsage: true,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the current screen state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := client().State(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

var pressCmd = &cobra.Command{
	Use:   "press <kind>",
	Short: "Send a presenter command (navigate, set_amount_digits, generate_code, activate, confirm_payment, cancel)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		msg := protocol.UICommand{Kind: args[0], Target: target, Digits: digits}
		if epoch >= 0 {
			msg.Epoch = uint64(epoch)
		} else {
			st, err := c.State(cmd.Context())
			if err != nil {
				return err
			}
			msg.Epoch = st.Epoch
		}
		res, err := c.Submit(cmd.Context(), msg)
		if errors.Is(err, navigation.ErrStaleCommand) {
			fmt.Fprintln(os.Stderr, "screen changed before the command arrived")
		}
		if perr := printJSON(res); perr != nil {
			return perr
		}
		return err
	},
}

var listenCmd = &cobra.Command{
	Use:       "listen on|off",
	Short:     "Toggle the kiosk microphone",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[0] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		listening, err := client().Listen(cmd.Context(), on)
		if err != nil {
			return err
		}
		fmt.Printf("listening: %t\n", listening)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream screen states until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := client().Watch(cmd.Context(), func(st protocol.ScreenState) bool {
			return printJSON(st) == nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List recorded transactions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := transactions.NewClient(addr, timeout).List(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(list)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "kiosk HTTP address")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	pressCmd.Flags().StringVar(&target, "target", "", "screen for navigate (static, dynamic, tap, transactions, help, home)")
	pressCmd.Flags().StringVar(&digits, "digits", "", "amount digits")
	pressCmd.Flags().Int64Var(&epoch, "epoch", -1, "screen epoch the command was computed against (default: current)")
}

func client() *router.Client {
	return router.NewClient(addr, timeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	rootCmd.AddCommand(stateCmd, pressCmd, listenCmd, watchCmd, transactionsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
