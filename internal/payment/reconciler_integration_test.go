package payment_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	orderDatamodel "github.com/pickandplay/guitar-api/internal/core/datamodel/order"
	paymentDatamodel "github.com/pickandplay/guitar-api/internal/core/datamodel/payment"
	"github.com/pickandplay/guitar-api/internal/core/events"
	"github.com/pickandplay/guitar-api/internal/khqr"
	"github.com/pickandplay/guitar-api/internal/order"
	orderPostgres "github.com/pickandplay/guitar-api/internal/order/postgres"
	"github.com/pickandplay/guitar-api/internal/payment"
	paymentPostgres "github.com/pickandplay/guitar-api/internal/payment/postgres"
)

var _ = Describe("Reconciler with a database", func() {
	var (
		db         *gorm.DB
		orders     *orderPostgres.OrderRepository
		service    *payment.Service
		reconciler *payment.Reconciler
		ctx        context.Context
		orderID    int64
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			TranslateError: true,
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		Expect(err).ToNot(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).ToNot(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&orderDatamodel.Order{}, &paymentDatamodel.Payment{})).To(Succeed())

		ctx = context.Background()
		orders = orderPostgres.NewOrderRepository(db)
		o := order.NewOrder("Dara", "Phnom Penh", dec("10.00"), nil)
		Expect(orders.Create(ctx, o)).To(Succeed())
		orderID = o.ID

		generator := khqr.NewGenerator(khqr.MerchantProfile{
			BakongAccountID: "shop@abaa",
			MerchantName:    "Pick and Play",
			MerchantCity:    "Phnom Penh",
		}, 0)
		ledger := payment.NewLedger(paymentPostgres.NewPaymentRepository(db), testLogger())
		service = payment.NewService(orders, ledger, generator, testLogger())
		reconciler = payment.NewReconciler(orders, ledger, generator, nil, events.NewEventBus(testLogger()), testLogger())
	})

	It("should walk an order from pending to paid with generated QR codes", func() {
		qr, err := service.GenerateQR(ctx, payment.GenerateQRRequest{Amount: dec("6"), Currency: "USD", OrderID: &orderID})
		Expect(err).ToNot(HaveOccurred())
		Expect(qr.PendingPaymentID).ToNot(BeZero())

		res, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{
			OrderID: orderID, QRString: qr.QRString, Amount: decPtr("6"), Currency: "USD", TransactionRef: "A",
		}, payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Verified).To(BeTrue())
		Expect(res.OrderStatus).To(Equal(order.StatusPartial))
		firstPayment := res.PaymentID

		res, err = reconciler.Reconcile(ctx, payment.ReconcileRequest{
			OrderID: orderID, QRString: qr.QRString, Amount: decPtr("4"), Currency: "USD", TransactionRef: "B",
		}, payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.OrderStatus).To(Equal(order.StatusCompleted))
		Expect(res.PaymentStatus).To(Equal(order.PaymentStatusPaid))

		stored, err := orders.FindByID(ctx, orderID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.Status).To(Equal(order.StatusCompleted))

		summary, err := service.PaymentStatus(ctx, orderID, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Collected.Equal(dec("10"))).To(BeTrue())
		// pending placeholder plus two successes
		Expect(summary.Payments).To(HaveLen(3))

		replay, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{
			OrderID: orderID, QRString: qr.QRString, Amount: decPtr("6"), Currency: "USD", TransactionRef: "A",
		}, payment.CallbackPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(replay.Duplicate).To(BeTrue())
		Expect(replay.AlreadySettled).To(BeTrue())
		Expect(replay.PaymentID).To(Equal(firstPayment))

		var count int64
		Expect(db.Model(&paymentDatamodel.Payment{}).Where("status = ?", payment.StatusSuccess).Count(&count).Error).To(Succeed())
		Expect(count).To(Equal(int64(2)))
	})

	It("should reject a tampered QR string without writing", func() {
		qr, err := service.GenerateQR(ctx, payment.GenerateQRRequest{Amount: dec("10"), Currency: "USD"})
		Expect(err).ToNot(HaveOccurred())
		tampered := qr.QRString[:len(qr.QRString)-4] + "0000"
		if tampered == qr.QRString {
			tampered = qr.QRString[:len(qr.QRString)-4] + "FFFF"
		}

		_, err = reconciler.Reconcile(ctx, payment.ReconcileRequest{
			OrderID: orderID, QRString: tampered, Amount: decPtr("10"), TransactionRef: "T",
		}, payment.CallbackPolicy)
		Expect(err).To(HaveOccurred())

		var count int64
		Expect(db.Model(&paymentDatamodel.Payment{}).Count(&count).Error).To(Succeed())
		Expect(count).To(BeZero())
	})

	It("should let a scan without a reference pay the full total", func() {
		res, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: orderID}, payment.ScanPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.OrderStatus).To(Equal(order.StatusCompleted))

		again, err := reconciler.Reconcile(ctx, payment.ReconcileRequest{OrderID: orderID}, payment.ScanPolicy)
		Expect(err).ToNot(HaveOccurred())
		Expect(again.AlreadySettled).To(BeTrue())
	})

	It("should recompute an order under its row lock", func() {
		// A payment committed by another process, outside this reconciler
		row := &paymentDatamodel.Payment{OrderID: orderID, Currency: "USD", Amount: dec("10"), Status: payment.StatusSuccess}
		Expect(db.Create(row).Error).To(Succeed())

		o, collected, err := reconciler.Recompute(ctx, orderID)
		Expect(err).ToNot(HaveOccurred())
		Expect(collected.Equal(dec("10"))).To(BeTrue())
		Expect(o.Status).To(Equal(order.StatusCompleted))

		stored, err := orders.FindByID(ctx, orderID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.PaymentStatus).To(Equal(order.PaymentStatusPaid))
	})
})
