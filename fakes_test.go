package coursesaga

import (
	"context"
	"fmt"
	"sync"
)

// callLog records collaborator calls across services in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeCatalog struct {
	log     *callLog
	courses map[int64]Course
	err     error
}

func (f *fakeCatalog) Lookup(_ context.Context, courseID int64) (Course, error) {
	f.log.add("catalog.lookup(%d)", courseID)
	if f.err != nil {
		return Course{}, f.err
	}
	c, ok := f.courses[courseID]
	if !ok {
		return Course{}, ErrCourseNotFound
	}
	return c, nil
}

type fakePayments struct {
	log       *callLog
	nextID    int64
	createErr error
	deleteErr error
}

func (f *fakePayments) Create(_ context.Context, userID, amount int64, method string) (int64, error) {
	f.log.add("payments.create(%d,%d,%s)", userID, amount, method)
	if f.createErr != nil {
		return 0, f.createErr
	}
	return f.nextID, nil
}

func (f *fakePayments) Delete(_ context.Context, paymentID int64) error {
	f.log.add("payments.delete(%d)", paymentID)
	return f.deleteErr
}

type fakeEnrollments struct {
	log       *callLog
	nextID    int64
	createErr error
	deleteErr error
}

func (f *fakeEnrollments) Create(_ context.Context, userID, courseID, paymentID int64) (int64, error) {
	f.log.add("enrollments.create(%d,%d,%d)", userID, courseID, paymentID)
	if f.createErr != nil {
		return 0, f.createErr
	}
	return f.nextID, nil
}

func (f *fakeEnrollments) Delete(_ context.Context, enrollmentID int64) error {
	f.log.add("enrollments.delete(%d)", enrollmentID)
	return f.deleteErr
}

type fakeCapacity struct {
	log    *callLog
	refuse bool
	err    error
	// refuseRestore refuses only positive adjustments.
	refuseRestore bool
}

func (f *fakeCapacity) Adjust(_ context.Context, courseID int64, delta int) (bool, error) {
	f.log.add("capacity.adjust(%d,%d)", courseID, delta)
	if f.err != nil {
		return false, f.err
	}
	if f.refuse || (f.refuseRestore && delta > 0) {
		return false, nil
	}
	return true, nil
}

type fixture struct {
	log         *callLog
	catalog     *fakeCatalog
	payments    *fakePayments
	enrollments *fakeEnrollments
	capacity    *fakeCapacity
}

func newFixture() *fixture {
	log := &callLog{}
	return &fixture{
		log:         log,
		catalog:     &fakeCatalog{log: log, courses: map[int64]Course{5: {ID: 5, Title: "Go", Available: true}}},
		payments:    &fakePayments{log: log, nextID: 100},
		enrollments: &fakeEnrollments{log: log, nextID: 200},
		capacity:    &fakeCapacity{log: log},
	}
}

func (f *fixture) deps() PurchaseDeps {
	return PurchaseDeps{
		Catalog:     f.catalog,
		Payments:    f.payments,
		Enrollments: f.enrollments,
		Capacity:    f.capacity,
	}
}

func (f *fixture) plan() *Plan {
	r := NewStepRegistry()
	if err := f.deps().Register(r); err != nil {
		panic(err)
	}
	p, err := NewPurchasePlan(r)
	if err != nil {
		panic(err)
	}
	return p
}

func purchaseContext(userID, courseID, amount int64, method string) *SagaContext {
	sc := NewSagaContextWithID("saga-1", userID, courseID)
	_ = sc.Put(KeyAmount, amount)
	_ = sc.Put(KeyPaymentMethod, method)
	return sc
}
