package billing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clinicops/backend/internal/domain/billing"
	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore is a shared in-memory backing store for the fake repositories.
// The fake transaction manager serializes mutations on it and rolls the
// state back when the transactional function fails, mirroring the
// commit-or-nothing behavior of the real persistence layer.
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

// memTxManager serializes transactions on the store and restores the
// pre-transaction state on error.
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

// memChargeOrderRepo is an in-memory billing.ChargeOrderRepository
type memChargeOrderRepo struct {
	store *memStore

	// saveWithLockHook, when set, runs before the version check; used to
	// inject conflicts.
	saveWithLockHook func(order *billing.ChargeOrder) error
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
	if r.saveWithLockHook != nil {
		if err := r.saveWithLockHook(order); err != nil {
			return err
		}
	}
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

// memPaymentRepo is an in-memory billing.PaymentRecordRepository
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
		if filter.ChargeOrderID != nil && p.ChargeOrderID != *filter.ChargeOrderID {
			continue
		}
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.ManualOnly && !p.ManualVerification {
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

// racingPaymentRepo simulates losing an idempotency-key race: the first dedup
// lookup for key misses (the competing request had not committed yet) and the
// subsequent save conflicts because the competitor now holds the key's slot in
// the unique index.
type racingPaymentRepo struct {
	*memPaymentRepo
	key     string
	lookups int
}

func (r *racingPaymentRepo) FindByIdempotencyKey(ctx context.Context, institutionID, chargeOrderID uuid.UUID, key string) (*billing.PaymentRecord, error) {
	if key == r.key {
		r.lookups++
		if r.lookups == 1 {
			return nil, nil
		}
	}
	return r.memPaymentRepo.FindByIdempotencyKey(ctx, institutionID, chargeOrderID, key)
}

func (r *racingPaymentRepo) Save(ctx context.Context, record *billing.PaymentRecord) error {
	if record.IdempotencyKey != nil && *record.IdempotencyKey == r.key {
		return shared.ErrConcurrencyConflict
	}
	return r.memPaymentRepo.Save(ctx, record)
}

// memAuditRepo is an in-memory billing.AuditEventRepository
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

// fakeGateway is a scriptable billing.PaymentGateway
type fakeGateway struct {
	mu          sync.Mutex
	unreachable bool
	pollStatus  billing.GatewayChargeStatus
	initiated   int
	txCounter   int
}

func (g *fakeGateway) InitiateCharge(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, phoneNumber string) (*billing.GatewayCharge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unreachable {
		return nil, shared.ErrDependencyUnavailable
	}
	g.initiated++
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
	// payload format: "notificationID|transactionID|status"
	parts := strings.SplitN(string(payload), "|", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed payload")
	}
	return &billing.GatewayCallback{
		NotificationID: parts[0],
		TransactionID:  parts[1],
		Status:         billing.GatewayChargeStatus(parts[2]),
		Reference:      "CB-REF",
		ReceivedAt:     time.Now(),
	}, nil
}

// memIdempotencyStore is an in-memory shared.IdempotencyStore
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

// testEnv wires a full in-memory environment for service tests
type testEnv struct {
	store       *memStore
	orderRepo   *memChargeOrderRepo
	paymentRepo *memPaymentRepo
	auditRepo   *memAuditRepo
	txManager   *memTxManager
	service     *ReconciliationService
	queries     *ChargeOrderQueryService
}

func newTestEnv() *testEnv {
	store := newMemStore()
	orderRepo := &memChargeOrderRepo{store: store}
	paymentRepo := &memPaymentRepo{store: store}
	auditRepo := &memAuditRepo{store: store}
	txManager := &memTxManager{store: store}
	return &testEnv{
		store:       store,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		service:     NewReconciliationService(orderRepo, paymentRepo, auditRepo, txManager, nil),
		queries:     NewChargeOrderQueryService(orderRepo, paymentRepo),
	}
}
