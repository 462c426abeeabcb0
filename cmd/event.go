package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/pickandplay/guitar-api/internal/core/events"
	"github.com/pickandplay/guitar-api/internal/order"
	"github.com/pickandplay/guitar-api/internal/telegram"
	"github.com/pickandplay/guitar-api/pkg/logger"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Notification commands",
	Long:  `Check the payment notification channels`,
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a sample payment notification",
	Long:  `Publish a fake payment.recorded event through the event bus so the Telegram notifier sends a sample message`,
	Run: func(cmd *cobra.Command, args []string) {
		sendTestNotification()
	},
}

var (
	testOrderID int64
	testAmount  string
)

func sendTestNotification() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logger.LoggerWrapper()

	if !config.Telegram.Enabled() {
		logger.Error("telegram bot_token and chat_id must be set")
		os.Exit(1)
	}

	amount, err := decimal.NewFromString(testAmount)
	if err != nil {
		logger.Error("invalid amount", "amount", testAmount, "error", err)
		os.Exit(1)
	}

	eventBus := events.NewEventBus(logger)
	notifier := telegram.NewNotifier(telegram.NewClient(config.Telegram, logger), nil, telegram.Config{MaxWorkers: 1}, logger)
	notifier.RegisterEventHandlers(eventBus)

	testEvent := events.NewPaymentRecordedEvent(testOrderID, 0, amount, "USD",
		fmt.Sprintf("test-%d", time.Now().Unix()), "cli-command",
		amount, amount, order.StatusCompleted, order.PaymentStatusPaid)

	logger.Info("publishing test event", "event_type", testEvent.EventType(), "event_id", testEvent.EventID())

	if err := eventBus.PublishSync(context.Background(), testEvent); err != nil {
		logger.Error("failed to publish event", "error", err)
		os.Exit(1)
	}

	// give the worker a moment to pick the message up before shutting down
	time.Sleep(3 * time.Second)
	notifier.Shutdown()
	logger.Info("test notification dispatched")
}

func init() {
	notifyTestCmd.Flags().Int64Var(&testOrderID, "order-id", 1, "Order id shown in the message")
	notifyTestCmd.Flags().StringVar(&testAmount, "amount", "1.00", "Amount shown in the message")

	notifyCmd.AddCommand(notifyTestCmd)

	rootCmd.AddCommand(notifyCmd)
}
