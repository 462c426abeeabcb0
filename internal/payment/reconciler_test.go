package payment_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/pickandplay/guitar-api/internal"
	"github.com/pickandplay/guitar-api/internal/core/events"
	"github.com/pickandplay/guitar-api/internal/order"
	"github.com/pickandplay/guitar-api/internal/payment"
)

var _ = Describe("Reconciler", func() {
	var (
		orders     *mockOrderRepository
		store      *mockPaymentStore
		qr         *mockQRProvider
		notifier   *mockNotifier
		bus        *events.EventBus
		reconciler *payment.Reconciler
		ctx        context.Context
	)

	BeforeEach(func() {
		orders = newMockOrderRepository(newOrder(1, "10.00"))
		store = newMockPaymentStore()
		qr = &mockQRProvider{valid: true}
		notifier = &mockNotifier{}
		bus = events.NewEventBus(testLogger())
		reconciler = payment.NewReconciler(orders, payment.NewLedger(store, testLogger()), qr, notifier, bus, testLogger())
		ctx = context.Background()
	})

	callback := func(ref, amount string) payment.ReconcileRequest {
		return payment.ReconcileRequest{OrderID: 1, QRString: "qr", Amount: decPtr(amount), Currency: "USD", TransactionRef: ref}
	}

	It("should settle the ten dollar order across two payments and ignore a replay", func() {
		// Given $6 via A
		res, err := reconciler.Reconcile(ctx, callback("A", "6"), payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Verified).To(BeTrue())
		Expect(res.Collected.Equal(dec("6"))).To(BeTrue())
		Expect(res.Total.Equal(dec("10"))).To(BeTrue())
		Expect(orders.get(1).Status).To(Equal(order.StatusPartial))
		Expect(orders.get(1).PaymentStatus).To(Equal(order.PaymentStatusPartial))
		firstPayment := res.PaymentID

		// When $4 arrives via B
		res, err = reconciler.Reconcile(ctx, callback("B", "4"), payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Collected.Equal(dec("10"))).To(BeTrue())
		Expect(orders.get(1).Status).To(Equal(order.StatusCompleted))
		Expect(orders.get(1).PaymentStatus).To(Equal(order.PaymentStatusPaid))

		// Then replaying A is answered without a new row
		res, err = reconciler.Reconcile(ctx, callback("A", "6"), payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Duplicate).To(BeTrue())
		Expect(res.AlreadySettled).To(BeTrue())
		Expect(res.PaymentID).To(Equal(firstPayment))
		Expect(res.TransactionRef).To(Equal("A"))
		Expect(res.Collected.Equal(dec("10"))).To(BeTrue())
		Expect(store.count()).To(Equal(2))
		Expect(firstPayment).ToNot(BeZero())
	})

	It("should return the original payment when the settling ref is replayed", func() {
		first, err := reconciler.Reconcile(ctx, callback("A", "10"), payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(first.OrderStatus).To(Equal(order.StatusCompleted))

		again, err := reconciler.Reconcile(ctx, callback("A", "10"), payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(again.PaymentID).To(Equal(first.PaymentID))
		Expect(again.Duplicate).To(BeTrue())
		Expect(again.AlreadySettled).To(BeTrue())
		Expect(store.count()).To(Equal(1))
		Expect(notifier.published()).To(HaveLen(1))
	})

	It("should return the original payment when a ref is replayed before settlement", func() {
		first, err := reconciler.Reconcile(ctx, callback("A", "6"), payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())

		again, err := reconciler.Reconcile(ctx, callback("A", "6"), payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(again.Duplicate).To(BeTrue())
		Expect(again.PaymentID).To(Equal(first.PaymentID))
		Expect(again.Collected.Equal(dec("6"))).To(BeTrue())
		Expect(store.count()).To(Equal(1))
		Expect(notifier.published()).To(HaveLen(1))
	})

	Describe("callback policy", func() {
		It("should reject a blank transaction reference before any lookup", func() {
			_, err := reconciler.Reconcile(ctx, callback("  ", "6"), payment.CallbackPolicy)
			Expect(err).To(MatchError(internal.ErrMissingTransactionRef))
			Expect(store.count()).To(Equal(0))
			Expect(qr.verified).To(BeEmpty())
			Expect(orders.saves).To(Equal(0))
		})

		It("should require the qr string and the amount", func() {
			req := callback("A", "6")
			req.QRString = ""
			_, err := reconciler.Reconcile(ctx, req, payment.CallbackPolicy)
			Expect(err).To(MatchError(internal.ErrMissingQRString))

			req = callback("A", "6")
			req.Amount = nil
			_, err = reconciler.Reconcile(ctx, req, payment.CallbackPolicy)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(400))
		})
	})

	It("should fail verification without persisting", func() {
		qr.valid = false
		_, err := reconciler.Reconcile(ctx, callback("A", "6"), payment.CallbackPolicy)
		Expect(err).To(MatchError(internal.ErrVerificationFailed))
		Expect(store.count()).To(Equal(0))
		Expect(orders.get(1).Status).To(Equal(order.StatusPending))
	})

	It("should fail closed when the verifier errors", func() {
		qr.valid = true
		qr.verifyErr = context.DeadlineExceeded
		_, err := reconciler.Reconcile(ctx, callback("A", "6"), payment.CallbackPolicy)
		Expect(err).To(MatchError(internal.ErrVerificationFailed))
		Expect(store.count()).To(Equal(0))
	})

	It("should report an unknown order", func() {
		req := callback("A", "6")
		req.OrderID = 404
		_, err := reconciler.Reconcile(ctx, req, payment.CallbackPolicy)
		Expect(err).To(MatchError(internal.ErrOrderNotFound))
	})

	It("should record nothing on a settled order", func() {
		_, err := reconciler.Reconcile(ctx, callback("A", "10"), payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())

		res, err := reconciler.Reconcile(ctx, callback("B", "5"), payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.AlreadySettled).To(BeTrue())
		Expect(res.Duplicate).To(BeFalse())
		Expect(res.PaymentID).To(BeZero())
		Expect(res.Collected.Equal(dec("10"))).To(BeTrue())
		Expect(store.count()).To(Equal(1))
	})

	Describe("scan policy", func() {
		It("should default the amount to the order total and synthesize a reference", func() {
			res, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: 1}, payment.ScanPolicy)
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Verified).To(BeFalse())
			Expect(res.TransactionRef).ToNot(BeEmpty())
			Expect(res.Collected.Equal(dec("10"))).To(BeTrue())
			Expect(res.OrderStatus).To(Equal(order.StatusCompleted))
			Expect(qr.verified).To(BeEmpty())
		})

		It("should let an explicit amount win over the default", func() {
			res, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: 1, Amount: decPtr("2.50")}, payment.ScanPolicy)
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Collected.Equal(dec("2.50"))).To(BeTrue())
			Expect(res.OrderStatus).To(Equal(order.StatusPartial))
		})

		It("should dedupe an explicit reference already recorded by a callback", func() {
			first, err := reconciler.Reconcile(ctx, callback("A", "6"), payment.CallbackPolicy)
			Expect(err).ToNot(HaveOccurred())

			res, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: 1, TransactionRef: "A"}, payment.ScanPolicy)
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Duplicate).To(BeTrue())
			Expect(res.PaymentID).To(Equal(first.PaymentID))
			Expect(store.count()).To(Equal(1))
		})

		It("should still verify a qr string when one is given", func() {
			qr.valid = false
			_, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: 1, QRString: "bad"}, payment.ScanPolicy)
			Expect(err).To(MatchError(internal.ErrVerificationFailed))
		})

		It("should reject negative amounts and unknown currencies", func() {
			_, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: 1, Amount: decPtr("-1")}, payment.ScanPolicy)
			Expect(err).To(HaveOccurred())

			_, err = reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: 1, Currency: "EUR"}, payment.ScanPolicy)
			Expect(err).To(MatchError(internal.ErrInvalidCurrency))
			Expect(store.count()).To(Equal(0))
		})

		It("should reject amounts finer than the currency allows", func() {
			for _, tc := range []struct{ amount, currency string }{
				{"6.005", "USD"},
				{"100.5", "KHR"},
			} {
				_, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: 1, Amount: decPtr(tc.amount), Currency: tc.currency}, payment.ScanPolicy)
				appErr, ok := internal.IsAppError(err)
				Expect(ok).To(BeTrue(), tc.amount)
				Expect(appErr.StatusCode).To(Equal(400))
			}
			Expect(store.count()).To(Equal(0))
			Expect(orders.saves).To(Equal(0))

			_, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: 1, Amount: decPtr("6.01"), Currency: "USD"}, payment.ScanPolicy)
			Expect(err).ToNot(HaveOccurred())
			_, err = reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: 1, Amount: decPtr("16000"), Currency: "KHR"}, payment.ScanPolicy)
			Expect(err).ToNot(HaveOccurred())
			Expect(store.count()).To(Equal(2))
		})
	})

	Describe("notifications", func() {
		It("should publish the payment to subscribers and the event bus", func() {
			var mu sync.Mutex
			var recorded []*events.PaymentRecordedEvent
			bus.Subscribe(events.EventTypePaymentRecorded, func(ctx context.Context, e events.Event) error {
				mu.Lock()
				defer mu.Unlock()
				recorded = append(recorded, e.(*events.PaymentRecordedEvent))
				return nil
			})

			res, err := reconciler.Reconcile(ctx, callback("A", "6"), payment.CallbackPolicy)
			Expect(err).ToNot(HaveOccurred())
			bus.Wait()

			published := notifier.published()
			Expect(published).To(HaveLen(1))
			Expect(published[0].orderID).To(Equal(int64(1)))
			Expect(published[0].name).To(Equal("payment"))
			evt := published[0].payload.(payment.PaymentEvent)
			Expect(evt.Status).To(Equal("success"))
			Expect(evt.PaymentID).To(Equal(res.PaymentID))
			Expect(evt.Amount.Equal(dec("6"))).To(BeTrue())

			mu.Lock()
			defer mu.Unlock()
			Expect(recorded).To(HaveLen(1))
			Expect(recorded[0].TransactionRef).To(Equal("A"))
			Expect(recorded[0].Source).To(Equal("callback"))
		})

		It("should swallow notifier failures", func() {
			notifier.err = context.Canceled
			res, err := reconciler.Reconcile(ctx, callback("A", "6"), payment.CallbackPolicy)
			Expect(err).ToNot(HaveOccurred())
			Expect(res.PaymentID).ToNot(BeZero())
		})
	})

	It("should keep the payment when the order save fails", func() {
		orders.saveErr = errDatabase
		res, err := reconciler.Reconcile(ctx, callback("A", "6"), payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.PaymentID).ToNot(BeZero())
		Expect(store.count()).To(Equal(1))

		// Recompute repairs the order once the store recovers
		orders.mu.Lock()
		orders.saveErr = nil
		orders.mu.Unlock()
		o, collected, err := reconciler.Recompute(ctx, 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(collected.Equal(dec("6"))).To(BeTrue())
		Expect(o.Status).To(Equal(order.StatusPartial))
		Expect(orders.get(1).Status).To(Equal(order.StatusPartial))
	})

	It("should serialize concurrent confirmations for the same order", func() {
		var wg sync.WaitGroup
		refs := []string{"r1", "r2", "r3", "r4", "r5", "r1", "r2"}
		for _, ref := range refs {
			wg.Add(1)
			go func(ref string) {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := reconciler.Reconcile(ctx, callback(ref, "2"), payment.CallbackPolicy)
				Expect(err).ToNot(HaveOccurred())
			}(ref)
		}
		wg.Wait()

		Expect(store.count()).To(Equal(5))
		o := orders.get(1)
		Expect(o.Status).To(Equal(order.StatusCompleted))
		Expect(o.PaymentStatus).To(Equal(order.PaymentStatusPaid))
	})

	It("should refresh updatedAt when recomputing", func() {
		before := orders.get(1).UpdatedAt
		time.Sleep(2 * time.Millisecond)
		_, _, err := reconciler.Recompute(ctx, 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(orders.get(1).UpdatedAt.After(before)).To(BeTrue())
		Expect(orders.get(1).Status).To(Equal(order.StatusPending))
	})

	It("should sum exactly with fractional amounts", func() {
		for _, ref := range []string{"a", "b", "c"} {
			_, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: 1, Amount: decPtr("3.33"), TransactionRef: ref}, payment.ScanPolicy)
			Expect(err).ToNot(HaveOccurred())
		}
		res, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: 1, Amount: decPtr("0.01"), TransactionRef: "d"}, payment.ScanPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Collected.Equal(decimal.RequireFromString("10.00"))).To(BeTrue())
		Expect(res.OrderStatus).To(Equal(order.StatusCompleted))
	})
})
