package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pickandplay/guitar-api/internal/core/events"
	"github.com/pickandplay/guitar-api/internal/order"
)

// Sender is implemented by *Client.
type Sender interface {
	IsConfigured() bool
	SendMessage(ctx context.Context, text string) error
}

// OrderFinder loads the order a payment belongs to.
type OrderFinder interface {
	FindByID(ctx context.Context, id int64) (*order.Order, error)
}

type Config struct {
	MaxWorkers   int
	JobQueueSize int
	SendTimeout  time.Duration
}

// Notifier turns recorded payments into chat messages. Sends run on a small
// worker pool so event handlers never wait on the Bot API.
type Notifier struct {
	sender Sender
	orders OrderFinder
	logger *slog.Logger

	sendTimeout time.Duration
	jobQueue    chan MessageJob
	workerPool  chan chan MessageJob
	maxWorkers  int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	once        sync.Once
}

// NewNotifier starts the worker pool. orders may be nil, in which case messages
// leave out customer details.
func NewNotifier(sender Sender, orders OrderFinder, config Config, logger *slog.Logger) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	jobQueueSize := config.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}
	sendTimeout := config.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}

	n := &Notifier{
		sender:      sender,
		orders:      orders,
		logger:      logger,
		sendTimeout: sendTimeout,
		maxWorkers:  maxWorkers,
		jobQueue:    make(chan MessageJob, jobQueueSize),
		workerPool:  make(chan chan MessageJob, maxWorkers),
		ctx:         ctx,
		cancel:      cancel,
	}
	n.startWorkerPool()
	return n
}

func (n *Notifier) startWorkerPool() {
	n.once.Do(func() {
		for i := 0; i < n.maxWorkers; i++ {
			worker := NewWorker(i, n.workerPool, n.logger)
			worker.Start(n.ctx, &n.wg, n.process)
		}

		n.wg.Add(1)
		go n.dispatch()

		n.logger.Info("telegram worker pool started",
			"max_workers", n.maxWorkers,
			"queue_size", cap(n.jobQueue))
	})
}

func (n *Notifier) dispatch() {
	defer n.wg.Done()

	for {
		select {
		case job := <-n.jobQueue:
			select {
			case jobChannel := <-n.workerPool:
				select {
				case jobChannel <- job:
				case <-n.ctx.Done():
					return
				}
			case <-n.ctx.Done():
				return
			}
		case <-n.ctx.Done():
			n.logger.Info("telegram dispatcher shutting down")
			return
		}
	}
}

// RegisterEventHandlers subscribes the notifier to payment events.
func (n *Notifier) RegisterEventHandlers(bus *events.EventBus) {
	bus.Subscribe(events.EventTypePaymentRecorded, n.HandlePaymentRecorded)
	n.logger.Info("telegram notifier registered", "configured", n.sender.IsConfigured())
}

// HandlePaymentRecorded queues a message for the payment. It drops the message
// when the notifier is unconfigured or the queue is full.
func (n *Notifier) HandlePaymentRecorded(ctx context.Context, event events.Event) error {
	evt, ok := event.(*events.PaymentRecordedEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	if !n.sender.IsConfigured() {
		n.logger.Debug("telegram not configured, skipping payment notification", "order_id", evt.OrderID)
		return nil
	}

	var o *order.Order
	if n.orders != nil {
		loaded, err := n.orders.FindByID(ctx, evt.OrderID)
		if err != nil {
			n.logger.Warn("failed to load order for telegram message", "order_id", evt.OrderID, "error", err)
		} else {
			o = loaded
		}
	}

	return n.Enqueue(MessageJob{OrderID: evt.OrderID, PaymentID: evt.PaymentID, Text: FormatPaymentMessage(evt, o)})
}

// Enqueue hands job to the worker pool without blocking.
func (n *Notifier) Enqueue(job MessageJob) error {
	select {
	case <-n.ctx.Done():
		return fmt.Errorf("telegram notifier stopped")
	default:
	}

	select {
	case n.jobQueue <- job:
		return nil
	default:
		n.logger.Warn("telegram queue full, dropping message",
			"order_id", job.OrderID,
			"queue_capacity", cap(n.jobQueue))
		return fmt.Errorf("telegram queue full")
	}
}

func (n *Notifier) process(job MessageJob) {
	ctx, cancel := context.WithTimeout(n.ctx, n.sendTimeout)
	defer cancel()

	if err := n.sender.SendMessage(ctx, job.Text); err != nil {
		n.logger.Error("failed to send telegram notification",
			"order_id", job.OrderID,
			"payment_id", job.PaymentID,
			"error", err)
		return
	}
	n.logger.Info("telegram notification sent", "order_id", job.OrderID, "payment_id", job.PaymentID)
}

// Shutdown stops the workers. Queued messages that were not picked up are dropped.
func (n *Notifier) Shutdown() {
	n.cancel()
	n.wg.Wait()
	n.logger.Info("telegram notifier shutdown complete")
}

// FormatPaymentMessage renders the chat message for a recorded payment.
func FormatPaymentMessage(evt *events.PaymentRecordedEvent, o *order.Order) string {
	var sb strings.Builder

	if evt.OrderStatus == order.StatusCompleted {
		sb.WriteString("🎸 *Order Paid - PickAndPlay*\n\n")
	} else {
		sb.WriteString("🎸 *Payment Received - PickAndPlay*\n\n")
	}

	fmt.Fprintf(&sb, "📋 Order ID: *#%d*\n", evt.OrderID)
	if o != nil {
		name := o.CustomerName
		if name == "" {
			name = "Guest"
		}
		fmt.Fprintf(&sb, "👤 Customer: %s\n", EscapeMarkdown(name))
	}
	fmt.Fprintf(&sb, "💵 Amount: *%s %s*\n", formatMoney(evt.Amount, evt.Currency), evt.Currency)
	fmt.Fprintf(&sb, "💰 Collected: %s / %s\n", evt.Collected.StringFixed(2), evt.Total.StringFixed(2))
	fmt.Fprintf(&sb, "📦 Status: %s\n", EscapeMarkdown(evt.OrderStatus))
	if evt.TransactionRef != "" {
		fmt.Fprintf(&sb, "🔖 Ref: `%s`\n", strings.ReplaceAll(evt.TransactionRef, "`", "'"))
	}
	if o != nil && o.ShippingAddress != "" {
		fmt.Fprintf(&sb, "📍 Shipping: %s\n", EscapeMarkdown(o.ShippingAddress))
	}

	if evt.OrderStatus == order.StatusCompleted {
		sb.WriteString("\n✅ Payment successful!")
	} else {
		sb.WriteString("\n⏳ Partial payment, waiting for the rest.")
	}
	return sb.String()
}

func formatMoney(amount decimal.Decimal, currency string) string {
	if currency == "KHR" {
		return amount.StringFixed(0)
	}
	return amount.StringFixed(2)
}
