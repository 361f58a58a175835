package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/stkpush-checkout/internal/checkout"
	"github.com/frahmantamala/stkpush-checkout/internal/transaction"
	"github.com/frahmantamala/stkpush-checkout/pkg/logger"
)

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Run a checkout against a running server",
	Long:  `Send an STK push through the server API and poll until the payment settles or times out.`,
	RunE:  runPay,
}

var (
	payPhone     string
	payAmount    int64
	payEmail     string
	payReference string
	payResume    string
)

func runPay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	log := logger.L()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := checkout.NewHTTPClient(cfg.Checkout.ServerURL, cfg.PesaFlux.Timeout, log)
	controller := checkout.NewController(client, checkout.RealScheduler(), checkout.Config{
		PollInterval:    cfg.Checkout.PollInterval,
		MaxAttempts:     cfg.Checkout.MaxAttempts,
		DirectPollAfter: cfg.Checkout.DirectPollAfter,
	}, log)

	var session *checkout.Session
	if payResume != "" {
		session = controller.Resume(ctx, payResume)
	} else {
		amount := payAmount
		if amount == 0 {
			amount = cfg.Checkout.Amount
		}
		req := transaction.InitiatePaymentRequest{
			MSISDN:    transaction.NormalizePhone(payPhone),
			Amount:    amount,
			Email:     payEmail,
			Reference: payReference,
		}
		if err := req.Validate(); err != nil {
			return err
		}

		session, err = controller.Start(ctx, req)
		if err != nil {
			return fmt.Errorf("payment initiation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "STK push sent. Enter your M-Pesa PIN on %s.\n", req.MSISDN)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Waiting for payment %s...\n", session.TransactionRequestID())

	out, err := session.Wait(context.Background())
	if errors.Is(err, checkout.ErrStopped) {
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped after %d attempts.\n", session.Attempts())
		return nil
	}

	switch out.State {
	case checkout.StateSettledSuccess:
		receipt := "-"
		if out.Receipt != nil {
			receipt = *out.Receipt
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Payment successful. Receipt: %s\n", receipt)
		return nil
	default:
		return errors.New(out.Message)
	}
}

func init() {
	payCmd.Flags().StringVar(&payPhone, "phone", "", "payer phone number, e.g. 0712345678")
	payCmd.Flags().Int64Var(&payAmount, "amount", 0, "amount in KES (defaults to checkout.amount)")
	payCmd.Flags().StringVar(&payEmail, "email", "", "payer email")
	payCmd.Flags().StringVar(&payReference, "reference", "", "client reference (generated by the server when empty)")
	payCmd.Flags().StringVar(&payResume, "resume", "", "poll an existing transaction_request_id instead of starting a new one")

	rootCmd.AddCommand(payCmd)
}
