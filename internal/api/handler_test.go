package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meditrack/m/domain"
	"meditrack/m/internal/report"
	"meditrack/m/internal/sale"
	"meditrack/m/internal/seed"
	"meditrack/m/internal/service"
	"meditrack/m/internal/storetest"
)

type testServer struct {
	t      *testing.T
	h      *Handler
	svcs   *service.Services
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := storetest.Open(t)
	logger := storetest.Logger()
	svcs := service.New(st, service.Options{Logger: logger, PhoneRegion: "IN"})
	h := New(svcs, sale.New(st, svcs, logger), report.New(st, svcs, logger), "test-secret", logger)
	return &testServer{t: t, h: h, svcs: svcs, router: h.Router()}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// token signs a session for id without going through the password check.
func (s *testServer) token(id string) string {
	s.t.Helper()
	u, err := s.svcs.Users.Get(context.Background(), id)
	if err != nil {
		s.t.Fatalf("get user %s: %v", id, err)
	}
	tok, err := s.h.generateToken(u)
	if err != nil {
		s.t.Fatalf("generate token: %v", err)
	}
	return tok
}

func (s *testServer) cashierToken() string {
	s.t.Helper()
	ctx := service.WithActor(context.Background(), domain.AdminUserID)
	u, err := s.svcs.Users.Create(ctx, service.NewUser{
		Username: "cashier1", Email: "cashier1@example.com", RoleID: domain.RoleCashierID,
	}, "secret123")
	if err != nil {
		s.t.Fatalf("create cashier: %v", err)
	}
	return s.token(u.ID)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(http.MethodGet, "/health", "", nil), http.StatusOK)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/auth/login", "", loginRequest{Username: seed.AdminUsername, Password: seed.AdminPassword})
	expectStatus(t, rec, http.StatusOK)
	resp := decode[authResponse](t, rec)
	if resp.Token == "" || resp.User == nil || resp.User.ID != domain.AdminUserID {
		t.Fatalf("unexpected login response %+v", resp)
	}

	me := s.do(http.MethodGet, "/auth/me", resp.Token, nil)
	expectStatus(t, me, http.StatusOK)
	if u := decode[domain.User](t, me); u.Username != seed.AdminUsername {
		t.Fatalf("unexpected user %+v", u)
	}

	bad := s.do(http.MethodPost, "/auth/login", "", loginRequest{Username: seed.AdminUsername, Password: "wrong"})
	expectStatus(t, bad, http.StatusUnauthorized)

	unknown := s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "admin", "pin": "1"})
	expectStatus(t, unknown, http.StatusBadRequest)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(http.MethodGet, "/medicines", "", nil), http.StatusUnauthorized)
	expectStatus(t, s.do(http.MethodGet, "/medicines", "not-a-token", nil), http.StatusUnauthorized)

	other := &Handler{secret: "other-secret"}
	forged, err := other.generateToken(&domain.User{ID: domain.AdminUserID, RoleID: domain.RoleAdminID})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	expectStatus(t, s.do(http.MethodGet, "/medicines", forged, nil), http.StatusUnauthorized)
}

func TestPermissions(t *testing.T) {
	s := newTestServer(t)
	cashier := s.cashierToken()

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/customers", http.StatusOK},
		{http.MethodGet, "/transactions", http.StatusOK},
		{http.MethodGet, "/medicines", http.StatusForbidden},
		{http.MethodGet, "/users", http.StatusForbidden},
		{http.MethodGet, "/reports", http.StatusForbidden},
		{http.MethodGet, "/audit-logs", http.StatusForbidden},
		{http.MethodGet, "/settings", http.StatusOK},
	}
	for _, tc := range cases {
		rec := s.do(tc.method, tc.path, cashier, nil)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, rec.Code)
		}
	}
	rec := s.do(http.MethodPut, "/settings/store.name", cashier, map[string]any{"type": "string", "value": "X"})
	expectStatus(t, rec, http.StatusForbidden)
}

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(domain.AdminUserID)

	rec := s.do(http.MethodPost, "/medicines", admin, service.NewMedicine{
		Name: "Paracetamol", Quantity: 100, PurchasePrice: 5, SellingPrice: 10, Barcode: "8901",
	})
	expectStatus(t, rec, http.StatusCreated)
	med := decode[domain.Medicine](t, rec)

	dup := s.do(http.MethodPost, "/medicines", admin, service.NewMedicine{Name: "Copy", Barcode: "8901"})
	expectStatus(t, dup, http.StatusConflict)

	invalid := s.do(http.MethodPost, "/medicines", admin, service.NewMedicine{Quantity: -1})
	expectStatus(t, invalid, http.StatusBadRequest)
	if body := decode[map[string]any](t, invalid); body["fields"] == nil {
		t.Fatalf("expected field errors, got %v", body)
	}

	rec = s.do(http.MethodPost, "/customers", admin, service.NewCustomer{Name: "Asha", Phone: "98765 43210"})
	expectStatus(t, rec, http.StatusCreated)
	customer := decode[domain.Customer](t, rec)

	cashier := s.cashierToken()
	rec = s.do(http.MethodPost, "/sales/checkout", cashier, sale.Cart{
		Lines:         []sale.Line{{MedicineID: med.ID, Quantity: 5}},
		CustomerID:    customer.ID,
		PaymentMethod: domain.PaymentCash,
		AmountPaid:    60,
	})
	expectStatus(t, rec, http.StatusCreated)
	receipt := decode[sale.Receipt](t, rec)
	if receipt.Total != 50 || receipt.Change != 10 || receipt.PointsEarned != 50 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	rec = s.do(http.MethodGet, "/medicines/barcode/8901", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if m := decode[domain.Medicine](t, rec); m.Quantity != 95 {
		t.Fatalf("expected 95 left, got %d", m.Quantity)
	}

	short := s.do(http.MethodPost, "/sales/checkout", cashier, sale.Cart{
		Lines:         []sale.Line{{MedicineID: med.ID, Quantity: 500}},
		PaymentMethod: domain.PaymentCard,
	})
	expectStatus(t, short, http.StatusBadRequest)

	empty := s.do(http.MethodPost, "/sales/checkout", cashier, sale.Cart{PaymentMethod: domain.PaymentCash})
	expectStatus(t, empty, http.StatusBadRequest)

	rec = s.do(http.MethodGet, "/customers/"+customer.ID+"/loyalty", cashier, nil)
	expectStatus(t, rec, http.StatusOK)
	if entries := decode[[]domain.LoyaltyTransaction](t, rec); len(entries) != 1 || entries[0].Points != 50 {
		t.Fatalf("unexpected ledger %+v", entries)
	}

	redeem := s.do(http.MethodPost, "/customers/"+customer.ID+"/loyalty/redeem", cashier, pointsRequest{Points: 80, Reason: "Discount"})
	expectStatus(t, redeem, http.StatusBadRequest)

	inUse := s.do(http.MethodDelete, "/medicines/"+med.ID, admin, nil)
	expectStatus(t, inUse, http.StatusConflict)

	rec = s.do(http.MethodGet, "/transactions?customer="+customer.ID, cashier, nil)
	expectStatus(t, rec, http.StatusOK)
	if txs := decode[[]domain.Transaction](t, rec); len(txs) != 1 || txs[0].TotalPrice != 50 {
		t.Fatalf("unexpected transactions %+v", txs)
	}

	rec = s.do(http.MethodGet, "/customers/top", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if top := decode[[]domain.TopCustomer](t, rec); len(top) != 1 || top[0].ID != customer.ID || top[0].PurchaseCount != 1 {
		t.Fatalf("unexpected top customers %+v", top)
	}

	expectStatus(t, s.do(http.MethodGet, "/medicines/missing", admin, nil), http.StatusNotFound)
}

func TestReceiveStock(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(domain.AdminUserID)

	rec := s.do(http.MethodPost, "/medicines", admin, service.NewMedicine{Name: "Ibuprofen", PurchasePrice: 3, SellingPrice: 6})
	expectStatus(t, rec, http.StatusCreated)
	med := decode[domain.Medicine](t, rec)

	rec = s.do(http.MethodPost, "/purchases", admin, sale.Delivery{MedicineID: med.ID, Quantity: 20, PaymentMethod: domain.PaymentCheck})
	expectStatus(t, rec, http.StatusCreated)
	if tx := decode[domain.Transaction](t, rec); tx.Type != domain.TransactionPurchase || tx.TotalPrice != 60 {
		t.Fatalf("unexpected purchase %+v", tx)
	}

	rec = s.do(http.MethodPost, "/medicines/"+med.ID+"/stock", admin, map[string]int64{"quantity": 7})
	expectStatus(t, rec, http.StatusOK)
	if m := decode[domain.Medicine](t, rec); m.Quantity != 7 {
		t.Fatalf("expected counted stock 7, got %d", m.Quantity)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(domain.AdminUserID)

	rec := s.do(http.MethodPut, "/settings/business.taxRate", admin, map[string]any{"type": "number", "value": 12.5})
	expectStatus(t, rec, http.StatusOK)
	if st := decode[domain.Setting](t, rec); st.Value != "12.5" || st.Type != domain.SettingNumber {
		t.Fatalf("unexpected setting %+v", st)
	}

	rec = s.do(http.MethodPut, "/settings/store.name", admin, map[string]any{"type": "string", "value": "Corner Chemist"})
	expectStatus(t, rec, http.StatusOK)
	if got := s.svcs.Settings.String(context.Background(), domain.KeyStoreName, ""); got != "Corner Chemist" {
		t.Fatalf("expected store name to change, got %q", got)
	}

	bad := s.do(http.MethodPut, "/settings/flag", admin, map[string]any{"type": "boolean", "value": "maybe"})
	expectStatus(t, bad, http.StatusBadRequest)

	expectStatus(t, s.do(http.MethodDelete, "/settings/business.taxRate", admin, nil), http.StatusNoContent)
	expectStatus(t, s.do(http.MethodGet, "/settings/business.taxRate", admin, nil), http.StatusNotFound)
}

func TestSalesSeriesDays(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(domain.AdminUserID)

	rec := s.do(http.MethodGet, "/transactions/series?days=7", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if series := decode[[]domain.DailyTotal](t, rec); len(series) != 7 {
		t.Fatalf("expected 7 days, got %d", len(series))
	}

	rec = s.do(http.MethodGet, "/transactions/series?days=2147483647", admin, nil)
	expectStatus(t, rec, http.StatusBadRequest)
	if body := decode[map[string]any](t, rec); body["fields"] == nil {
		t.Fatalf("expected field errors, got %v", body)
	}
}

func TestReportEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(domain.AdminUserID)

	day := domain.FormatDate(time.Now())
	rec := s.do(http.MethodPost, "/reports?type=financial&from="+day+"&to="+day, admin, nil)
	expectStatus(t, rec, http.StatusCreated)
	fin := decode[domain.FinancialReport](t, rec)
	if fin.ID == "" || fin.Type != domain.ReportFinancial {
		t.Fatalf("unexpected report %+v", fin)
	}

	expectStatus(t, s.do(http.MethodPost, "/reports?type=weekly&from="+day+"&to="+day, admin, nil), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodPost, "/reports?type=sales", admin, nil), http.StatusBadRequest)

	rec = s.do(http.MethodGet, "/reports/"+fin.ID+"/export", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	r := csv.NewReader(rec.Body)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil || records[0][0] != "Financial Report" {
		t.Fatalf("unexpected csv %v, %v", records, err)
	}

	rec = s.do(http.MethodGet, "/reports/"+fin.ID+"/export?format=xlsx", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.Len() == 0 {
		t.Fatalf("expected a workbook")
	}
	expectStatus(t, s.do(http.MethodGet, "/reports/"+fin.ID+"/export?format=pdf", admin, nil), http.StatusBadRequest)

	expectStatus(t, s.do(http.MethodDelete, "/reports/"+fin.ID, admin, nil), http.StatusNoContent)
	expectStatus(t, s.do(http.MethodGet, "/reports/"+fin.ID, admin, nil), http.StatusNotFound)
}

func TestUserAdministration(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(domain.AdminUserID)

	rec := s.do(http.MethodPost, "/users", admin, map[string]any{
		"username": "pharm", "email": "pharm@example.com", "role_id": domain.RoleManagerID, "password": "pharm123",
	})
	expectStatus(t, rec, http.StatusCreated)
	user := decode[domain.User](t, rec)

	dup := s.do(http.MethodPost, "/users", admin, map[string]any{
		"username": "pharm", "email": "other@example.com", "role_id": domain.RoleManagerID, "password": "pharm123",
	})
	expectStatus(t, dup, http.StatusConflict)

	expectStatus(t, s.do(http.MethodDelete, "/roles/"+domain.RoleManagerID, admin, nil), http.StatusConflict)
	expectStatus(t, s.do(http.MethodDelete, "/users/"+domain.AdminUserID, admin, nil), http.StatusConflict)

	rec = s.do(http.MethodPost, "/auth/login", "", loginRequest{Username: "pharm", Password: "pharm123"})
	expectStatus(t, rec, http.StatusOK)
	managerToken := decode[authResponse](t, rec).Token
	expectStatus(t, s.do(http.MethodGet, "/medicines", managerToken, nil), http.StatusOK)

	rec = s.do(http.MethodGet, "/audit-logs?entity="+domain.EntityUser+"&entity_id="+user.ID, admin, nil)
	expectStatus(t, rec, http.StatusOK)
	created := false
	for _, l := range decode[[]domain.AuditLog](t, rec) {
		if l.Action == domain.AuditCreate && l.UserID == domain.AdminUserID {
			created = true
		}
	}
	if !created {
		t.Fatalf("expected the creation to be audited by the admin")
	}

	expectStatus(t, s.do(http.MethodDelete, "/users/"+user.ID, admin, nil), http.StatusNoContent)
}
