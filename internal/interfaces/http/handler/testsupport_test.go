package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	billingapp "github.com/clinicops/backend/internal/application/billing"
	"github.com/clinicops/backend/internal/domain/billing"
	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/clinicops/backend/internal/interfaces/http/middleware"
	"github.com/clinicops/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memStore is a shared in-memory backing store for the fake repositories
type memStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]billing.ChargeOrder
	payments map[uuid.UUID]billing.PaymentRecord
	audits   []billing.AuditEvent
	seq      int64
	orderSeq int
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[uuid.UUID]billing.ChargeOrder),
		payments: make(map[uuid.UUID]billing.PaymentRecord),
	}
}

func (s *memStore) snapshot() *memStore {
	snap := newMemStore()
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.payments {
		snap.payments[k] = v
	}
	snap.audits = append([]billing.AuditEvent(nil), s.audits...)
	snap.seq = s.seq
	snap.orderSeq = s.orderSeq
	return snap
}

func (s *memStore) restore(snap *memStore) {
	s.orders = snap.orders
	s.payments = snap.payments
	s.audits = snap.audits
	s.seq = snap.seq
	s.orderSeq = snap.orderSeq
}

type memTxManager struct {
	store *memStore
}

func (m *memTxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	snap := m.store.snapshot()
	if err := fn(ctx); err != nil {
		m.store.restore(snap)
		return err
	}
	return nil
}

type memChargeOrderRepo struct {
	store *memStore
}

func (r *memChargeOrderRepo) FindByID(ctx context.Context, institutionID, id uuid.UUID) (*billing.ChargeOrder, error) {
	order, ok := r.store.orders[id]
	if !ok || order.InstitutionID != institutionID {
		return nil, nil
	}
	cp := order
	return &cp, nil
}

func (r *memChargeOrderRepo) FindByOrderNumber(ctx context.Context, institutionID uuid.UUID, orderNumber string) (*billing.ChargeOrder, error) {
	for _, order := range r.store.orders {
		if order.InstitutionID == institutionID && order.OrderNumber == orderNumber {
			cp := order
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memChargeOrderRepo) FindByAppointment(ctx context.Context, institutionID, appointmentID uuid.UUID) ([]billing.ChargeOrder, error) {
	var out []billing.ChargeOrder
	for _, order := range r.store.orders {
		if order.InstitutionID == institutionID && order.AppointmentID == appointmentID {
			out = append(out, order)
		}
	}
	return out, nil
}

func (r *memChargeOrderRepo) FindAll(ctx context.Context, institutionID uuid.UUID, filter billing.ChargeOrderFilter) ([]billing.ChargeOrder, int64, error) {
	var out []billing.ChargeOrder
	for _, order := range r.store.orders {
		if order.InstitutionID != institutionID {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		if filter.PatientID != nil && order.PatientID != *filter.PatientID {
			continue
		}
		out = append(out, order)
	}
	return out, int64(len(out)), nil
}

func (r *memChargeOrderRepo) Save(ctx context.Context, order *billing.ChargeOrder) error {
	r.store.orders[order.ID] = *order
	return nil
}

func (r *memChargeOrderRepo) SaveWithLock(ctx context.Context, order *billing.ChargeOrder) error {
	stored, ok := r.store.orders[order.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != order.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	r.store.orders[order.ID] = *order
	return nil
}

func (r *memChargeOrderRepo) ExistsByOrderNumber(ctx context.Context, institutionID uuid.UUID, orderNumber string) (bool, error) {
	order, _ := r.FindByOrderNumber(ctx, institutionID, orderNumber)
	return order != nil, nil
}

func (r *memChargeOrderRepo) GenerateOrderNumber(ctx context.Context, institutionID uuid.UUID) (string, error) {
	r.store.orderSeq++
	return fmt.Sprintf("CO-%04d", r.store.orderSeq), nil
}

type memPaymentRepo struct {
	store *memStore
}

func (r *memPaymentRepo) FindByID(ctx context.Context, institutionID, id uuid.UUID) (*billing.PaymentRecord, error) {
	p, ok := r.store.payments[id]
	if !ok || p.InstitutionID != institutionID {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (r *memPaymentRepo) FindByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) ([]billing.PaymentRecord, error) {
	var out []billing.PaymentRecord
	for _, p := range r.store.payments {
		if p.InstitutionID == institutionID && p.ChargeOrderID == chargeOrderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPaymentRepo) FindConfirmedByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) ([]billing.PaymentRecord, error) {
	var out []billing.PaymentRecord
	for _, p := range r.store.payments {
		if p.InstitutionID == institutionID && p.ChargeOrderID == chargeOrderID && p.IsConfirmed() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPaymentRepo) FindByIdempotencyKey(ctx context.Context, institutionID, chargeOrderID uuid.UUID, key string) (*billing.PaymentRecord, error) {
	for _, p := range r.store.payments {
		if p.InstitutionID == institutionID && p.ChargeOrderID == chargeOrderID &&
			p.IsConfirmed() && p.IdempotencyKey != nil && *p.IdempotencyKey == key {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memPaymentRepo) FindPendingByGatewayTransaction(ctx context.Context, transactionID string) (*billing.PaymentRecord, error) {
	for _, p := range r.store.payments {
		if p.GatewayTransactionID == transactionID && p.IsPending() {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memPaymentRepo) FindAll(ctx context.Context, institutionID uuid.UUID, filter billing.PaymentRecordFilter) ([]billing.PaymentRecord, int64, error) {
	var out []billing.PaymentRecord
	for _, p := range r.store.payments {
		if p.InstitutionID != institutionID {
			continue
		}
		out = append(out, p)
	}
	return out, int64(len(out)), nil
}

func (r *memPaymentRepo) SumConfirmedByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range r.store.payments {
		if p.InstitutionID == institutionID && p.ChargeOrderID == chargeOrderID && p.IsConfirmed() {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (r *memPaymentRepo) Save(ctx context.Context, record *billing.PaymentRecord) error {
	r.store.payments[record.ID] = *record
	return nil
}

type memAuditRepo struct {
	store *memStore
}

func (r *memAuditRepo) Append(ctx context.Context, event *billing.AuditEvent) error {
	r.store.seq++
	event.Sequence = r.store.seq
	r.store.audits = append(r.store.audits, *event)
	return nil
}

func (r *memAuditRepo) ListByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) ([]billing.AuditEvent, error) {
	var out []billing.AuditEvent
	for _, e := range r.store.audits {
		if e.InstitutionID == institutionID && e.ChargeOrderID == chargeOrderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memAuditRepo) CountByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) (int64, error) {
	events, _ := r.ListByChargeOrder(ctx, institutionID, chargeOrderID)
	return int64(len(events)), nil
}

// memIdempotencyStore tracks processed notification IDs in memory
type memIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemIdempotencyStore() *memIdempotencyStore {
	return &memIdempotencyStore{seen: make(map[string]bool)}
}

func (s *memIdempotencyStore) MarkProcessed(ctx context.Context, notificationID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[notificationID] {
		return false, nil
	}
	s.seen[notificationID] = true
	return true, nil
}

func (s *memIdempotencyStore) IsProcessed(ctx context.Context, notificationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[notificationID], nil
}

func (s *memIdempotencyStore) Close() error { return nil }

// fakeGateway is a scriptable billing.PaymentGateway. Callbacks are verified
// against the literal signature "valid" and decoded from space-separated
// "notificationID transactionID status" payloads.
type fakeGateway struct {
	mu          sync.Mutex
	unreachable bool
	pollStatus  billing.GatewayChargeStatus
	txCounter   int
}

func (g *fakeGateway) InitiateCharge(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, phoneNumber string) (*billing.GatewayCharge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unreachable {
		return nil, shared.ErrDependencyUnavailable
	}
	g.txCounter++
	return &billing.GatewayCharge{
		TransactionID: fmt.Sprintf("TX-%04d", g.txCounter),
		Status:        billing.GatewayChargePending,
		CreatedAt:     time.Now(),
	}, nil
}

func (g *fakeGateway) PollStatus(ctx context.Context, transactionID string) (*billing.GatewayCharge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unreachable {
		return nil, shared.ErrDependencyUnavailable
	}
	status := g.pollStatus
	if status == "" {
		status = billing.GatewayChargePending
	}
	return &billing.GatewayCharge{
		TransactionID: transactionID,
		Status:        status,
		Reference:     "POLL-REF",
	}, nil
}

func (g *fakeGateway) VerifyCallback(payload []byte, signature string) (*billing.GatewayCallback, error) {
	if signature != "valid" {
		return nil, fmt.Errorf("bad signature")
	}
	var notificationID, transactionID, status string
	if _, err := fmt.Sscanf(string(payload), "%s %s %s", &notificationID, &transactionID, &status); err != nil {
		return nil, fmt.Errorf("malformed payload")
	}
	return &billing.GatewayCallback{
		NotificationID: notificationID,
		TransactionID:  transactionID,
		Status:         billing.GatewayChargeStatus(status),
		Reference:      "CB-REF",
		ReceivedAt:     time.Now(),
	}, nil
}

// serverEnv wires a full in-memory HTTP server for handler tests
type serverEnv struct {
	engine        *gin.Engine
	store         *memStore
	gateway       *fakeGateway
	institutionID uuid.UUID
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	orderRepo := &memChargeOrderRepo{store: store}
	paymentRepo := &memPaymentRepo{store: store}
	auditRepo := &memAuditRepo{store: store}
	txManager := &memTxManager{store: store}
	gateway := &fakeGateway{}

	reconciliation := billingapp.NewReconciliationService(orderRepo, paymentRepo, auditRepo, txManager, nil)
	queries := billingapp.NewChargeOrderQueryService(orderRepo, paymentRepo)
	gatewaySvc := billingapp.NewGatewayPaymentService(billingapp.GatewayPaymentServiceConfig{
		Gateway:          gateway,
		OrderRepo:        orderRepo,
		PaymentRepo:      paymentRepo,
		AuditRepo:        auditRepo,
		TxManager:        txManager,
		IdempotencyStore: newMemIdempotencyStore(),
		IdempotencyCfg:   shared.DefaultIdempotencyConfig(),
	})

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.InstitutionMiddleware())

	r := router.NewRouter(engine)
	r.Register(NewChargeOrderHandler(reconciliation, queries))
	r.Register(NewPaymentHandler(reconciliation, gatewaySvc))
	r.Register(NewGatewayCallbackHandler(gatewaySvc))
	r.Setup()

	return &serverEnv{
		engine:        engine,
		store:         store,
		gateway:       gateway,
		institutionID: uuid.New(),
	}
}

// do performs a JSON request against the test server with the institution
// header set
func (e *serverEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.InstitutionHeaderKey, e.institutionID.String())
	req.Header.Set("X-User-ID", uuid.New().String())

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

// createOrder creates a charge order through the API and returns its ID
func (e *serverEnv) createOrder(t *testing.T, total float64) uuid.UUID {
	t.Helper()

	w := e.do(t, http.MethodPost, "/api/v1/billing/charge-orders", gin.H{
		"patient_id":     uuid.New().String(),
		"appointment_id": uuid.New().String(),
		"items": []gin.H{
			{"code": "CONSULT-GEN", "description": "General consultation", "quantity": 1, "unit_price": total},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			ID uuid.UUID `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEqual(t, uuid.Nil, resp.Data.ID)
	return resp.Data.ID
}
