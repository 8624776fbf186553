package sale

import (
	"context"
	"errors"
	"testing"

	"meditrack/m/domain"
	"meditrack/m/internal/service"
	"meditrack/m/internal/store"
	"meditrack/m/internal/storetest"
)

type fixture struct {
	svcs *service.Services
	flow *Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return fixtureOn(storetest.Open(t))
}

func fixtureOn(st store.Store) *fixture {
	svcs := service.New(st, service.Options{Logger: storetest.Logger()})
	return &fixture{svcs: svcs, flow: New(st, svcs, storetest.Logger())}
}

func (f *fixture) medicine(t *testing.T, name string, qty int64, price float64) *domain.Medicine {
	t.Helper()
	m, err := f.svcs.Medicines.Create(context.Background(), service.NewMedicine{
		Name: name, Quantity: qty, PurchasePrice: price / 2, SellingPrice: price,
	})
	if err != nil {
		t.Fatalf("Create %s: %v", name, err)
	}
	return m
}

func (f *fixture) quantity(t *testing.T, id string) int64 {
	t.Helper()
	m, err := f.svcs.Medicines.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return m.Quantity
}

func TestCheckoutSingleLineWithCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.medicine(t, "Aspirin", 100, 10)
	c, err := f.svcs.Customers.Create(ctx, service.NewCustomer{Name: "Asha"})
	if err != nil {
		t.Fatalf("Create customer: %v", err)
	}

	receipt, err := f.flow.Checkout(ctx, Cart{
		Lines:         []Line{{MedicineID: m.ID, Quantity: 5}},
		CustomerID:    c.ID,
		PaymentMethod: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if len(receipt.Lines) != 1 || receipt.Lines[0].Total != 50 || receipt.Total != 50 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if receipt.StoreName != "MediTrack Pharmacy" || receipt.PointsEarned != 50 || receipt.Change != 0 {
		t.Fatalf("unexpected receipt details %+v", receipt)
	}

	tx, err := f.svcs.Transactions.Get(ctx, receipt.Lines[0].TransactionID)
	if err != nil {
		t.Fatalf("Get transaction: %v", err)
	}
	if tx.TotalPrice != 50 || tx.Type != domain.TransactionSale || tx.CustomerID != c.ID {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if got := f.quantity(t, m.ID); got != 95 {
		t.Fatalf("expected 95 on hand, got %d", got)
	}
	after, err := f.svcs.Customers.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get customer: %v", err)
	}
	if after.TotalSpent != 50 || after.LoyaltyPoints != 50 {
		t.Fatalf("unexpected customer %+v", after)
	}
}

func TestCheckoutRollsBackOnInsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plenty := f.medicine(t, "Aspirin", 100, 10)
	scarce := f.medicine(t, "Insulin", 2, 300)
	c, err := f.svcs.Customers.Create(ctx, service.NewCustomer{Name: "Asha"})
	if err != nil {
		t.Fatalf("Create customer: %v", err)
	}

	_, err = f.flow.Checkout(ctx, Cart{
		Lines: []Line{
			{MedicineID: plenty.ID, Quantity: 5},
			{MedicineID: scarce.ID, Quantity: 3},
		},
		CustomerID:    c.ID,
		PaymentMethod: domain.PaymentCard,
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	if got := f.quantity(t, plenty.ID); got != 100 {
		t.Fatalf("first line was not rolled back: %d on hand", got)
	}
	all, err := f.svcs.Transactions.List(ctx)
	if err != nil || len(all) != 0 {
		t.Fatalf("expected no transactions, got %d, %v", len(all), err)
	}
	after, _ := f.svcs.Customers.Get(ctx, c.ID)
	if after.TotalSpent != 0 || after.LoyaltyPoints != 0 {
		t.Fatalf("customer credited for a failed sale: %+v", after)
	}
}

func TestCheckoutMergesLinesAndAppliesDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.medicine(t, "Aspirin", 10, 2.5)
	b := f.medicine(t, "Bandage", 10, 4)

	receipt, err := f.flow.Checkout(ctx, Cart{
		Lines: []Line{
			{MedicineID: a.ID, Quantity: 1},
			{MedicineID: b.ID, Quantity: 2},
			{MedicineID: a.ID, Quantity: 3},
		},
		PaymentMethod: domain.PaymentCash,
		Discount:      3,
		AmountPaid:    20,
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if len(receipt.Lines) != 2 || receipt.Lines[0].Quantity != 4 {
		t.Fatalf("expected merged lines, got %+v", receipt.Lines)
	}
	if receipt.Subtotal != 18 || receipt.Total != 15 || receipt.Change != 5 {
		t.Fatalf("unexpected totals %+v", receipt)
	}
	if got := f.quantity(t, a.ID); got != 6 {
		t.Fatalf("expected 6 on hand, got %d", got)
	}
}

func TestCheckoutDiscountNeverBelowZero(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(t, "Aspirin", 10, 2)
	receipt, err := f.flow.Checkout(context.Background(), Cart{
		Lines:         []Line{{MedicineID: m.ID, Quantity: 1}},
		PaymentMethod: domain.PaymentCash,
		Discount:      50,
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if receipt.Total != 0 || receipt.AmountPaid != 0 {
		t.Fatalf("unexpected totals %+v", receipt)
	}
}

func TestCheckoutRejections(t *testing.T) {
	f := newFixture(t)
	m := f.medicine(t, "Aspirin", 10, 10)

	cases := []struct {
		name string
		cart Cart
		want error
	}{
		{"empty cart", Cart{PaymentMethod: domain.PaymentCash}, domain.ErrEmptyCart},
		{"zero quantity", Cart{Lines: []Line{{MedicineID: m.ID}}, PaymentMethod: domain.PaymentCash}, domain.ErrValidation},
		{"bad payment", Cart{Lines: []Line{{MedicineID: m.ID, Quantity: 1}}, PaymentMethod: "barter"}, domain.ErrValidation},
		{"underpaid", Cart{Lines: []Line{{MedicineID: m.ID, Quantity: 2}}, PaymentMethod: domain.PaymentCash, AmountPaid: 5}, domain.ErrValidation},
		{"unknown medicine", Cart{Lines: []Line{{MedicineID: "ghost", Quantity: 1}}, PaymentMethod: domain.PaymentCash}, domain.ErrNotFound},
		{"unknown customer", Cart{Lines: []Line{{MedicineID: m.ID, Quantity: 1}}, CustomerID: "ghost", PaymentMethod: domain.PaymentCash}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.flow.Checkout(context.Background(), tc.cart); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if got := f.quantity(t, m.ID); got != 10 {
		t.Fatalf("rejected checkouts changed stock: %d", got)
	}
}

func TestReceive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.medicine(t, "Aspirin", 0, 10)

	tx, err := f.flow.Receive(ctx, Delivery{MedicineID: m.ID, Quantity: 40, PaymentMethod: domain.PaymentCheck})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if tx.Type != domain.TransactionPurchase || tx.UnitPrice != 5 || tx.TotalPrice != 200 {
		t.Fatalf("unexpected purchase %+v", tx)
	}
	cost := 4.0
	if _, err := f.flow.Receive(ctx, Delivery{MedicineID: m.ID, Quantity: 10, UnitCost: &cost, PaymentMethod: domain.PaymentCash}); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got := f.quantity(t, m.ID); got != 50 {
		t.Fatalf("expected 50 on hand, got %d", got)
	}

	stats, err := f.svcs.Transactions.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalPurchases != 240 || stats.PurchaseCount != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, err := f.flow.Receive(ctx, Delivery{MedicineID: m.ID, PaymentMethod: domain.PaymentCash}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected zero quantity to fail, got %v", err)
	}
}

func TestCheckoutOnSnapshotSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st := storetest.OpenSnapshot(t, dir)
	f := fixtureOn(st)
	m := f.medicine(t, "Aspirin", 100, 10)
	c, err := f.svcs.Customers.Create(ctx, service.NewCustomer{Name: "Asha"})
	if err != nil {
		t.Fatalf("Create customer: %v", err)
	}
	cart := Cart{
		Lines:         []Line{{MedicineID: m.ID, Quantity: 5}},
		CustomerID:    c.ID,
		PaymentMethod: domain.PaymentCash,
	}
	if _, err := f.flow.Checkout(ctx, cart); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st = storetest.OpenSnapshot(t, dir)
	f = fixtureOn(st)
	if got := f.quantity(t, m.ID); got != 95 {
		t.Fatalf("expected 95 on hand after restart, got %d", got)
	}
	after, err := f.svcs.Customers.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get customer: %v", err)
	}
	if after.TotalSpent != 50 || after.LoyaltyPoints != 50 {
		t.Fatalf("unexpected customer after restart %+v", after)
	}
	if _, err := f.flow.Checkout(ctx, cart); err != nil {
		t.Fatalf("Checkout after restart: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f = fixtureOn(storetest.OpenSnapshot(t, dir))
	if got := f.quantity(t, m.ID); got != 90 {
		t.Fatalf("expected 90 on hand after second restart, got %d", got)
	}
	all, err := f.svcs.Transactions.List(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 transactions, got %d, %v", len(all), err)
	}
}
