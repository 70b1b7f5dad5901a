// Package collab provides in-memory stand-ins for the services the
// purchase saga calls: course catalog, payments, enrollments and capacity.
// Each records the calls it receives and can be told to fail.
package collab

import (
	"context"
	"fmt"
	"sync"

	"github.com/fortressi/coursesaga"
)

// Call is one recorded collaborator call.
type Call struct {
	Op   string
	Args []int64
}

func (c Call) String() string {
	return fmt.Sprintf("%s%v", c.Op, c.Args)
}

// Recorder keeps the calls made on a collaborator.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) record(op string, args ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: op, Args: args})
}

// Calls returns the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many calls of op were recorded.
func (r *Recorder) Count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Catalog is an in-memory coursesaga.CourseCatalog.
type Catalog struct {
	Recorder
	mu      sync.RWMutex
	courses map[int64]coursesaga.Course
	err     error
}

var _ coursesaga.CourseCatalog = (*Catalog)(nil)

func NewCatalog(courses ...coursesaga.Course) *Catalog {
	c := &Catalog{courses: make(map[int64]coursesaga.Course)}
	for _, course := range courses {
		c.courses[course.ID] = course
	}
	return c
}

// Put adds or replaces a course.
func (c *Catalog) Put(course coursesaga.Course) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.courses[course.ID] = course
}

// FailWith makes every lookup fail with err. A nil err clears it.
func (c *Catalog) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *Catalog) Lookup(_ context.Context, courseID int64) (coursesaga.Course, error) {
	c.record("lookup", courseID)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return coursesaga.Course{}, c.err
	}
	course, ok := c.courses[courseID]
	if !ok {
		return coursesaga.Course{}, fmt.Errorf("course %d: %w", courseID, coursesaga.ErrCourseNotFound)
	}
	return course, nil
}

// Payment is a payment held by Payments.
type Payment struct {
	ID     int64
	UserID int64
	Amount int64
	Method string
	Status string
}

const PaymentPending = "PENDING"

// Payments is an in-memory coursesaga.PaymentService. Ids start at 1.
type Payments struct {
	Recorder
	mu        sync.Mutex
	seq       int64
	payments  map[int64]Payment
	createErr error
	deleteErr error
}

var _ coursesaga.PaymentService = (*Payments)(nil)

func NewPayments() *Payments {
	return &Payments{payments: make(map[int64]Payment)}
}

// FailCreate makes Create fail with err.
func (p *Payments) FailCreate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = err
}

// FailDelete makes Delete fail with err.
func (p *Payments) FailDelete(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteErr = err
}

func (p *Payments) Create(_ context.Context, userID, amount int64, method string) (int64, error) {
	p.record("create", userID, amount)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return 0, p.createErr
	}
	p.seq++
	p.payments[p.seq] = Payment{ID: p.seq, UserID: userID, Amount: amount, Method: method, Status: PaymentPending}
	return p.seq, nil
}

func (p *Payments) Delete(_ context.Context, paymentID int64) error {
	p.record("delete", paymentID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	delete(p.payments, paymentID)
	return nil
}

// Get returns a stored payment.
func (p *Payments) Get(paymentID int64) (Payment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pay, ok := p.payments[paymentID]
	return pay, ok
}

// Len returns the number of stored payments.
func (p *Payments) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payments)
}

// Enrollment is an enrollment held by Enrollments.
type Enrollment struct {
	ID        int64
	UserID    int64
	CourseID  int64
	PaymentID int64
}

// Enrollments is an in-memory coursesaga.EnrollmentService. Ids start at 1.
type Enrollments struct {
	Recorder
	mu          sync.Mutex
	seq         int64
	enrollments map[int64]Enrollment
	createErr   error
	deleteErr   error
}

var _ coursesaga.EnrollmentService = (*Enrollments)(nil)

func NewEnrollments() *Enrollments {
	return &Enrollments{enrollments: make(map[int64]Enrollment)}
}

func (e *Enrollments) FailCreate(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.createErr = err
}

func (e *Enrollments) FailDelete(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleteErr = err
}

func (e *Enrollments) Create(_ context.Context, userID, courseID, paymentID int64) (int64, error) {
	e.record("create", userID, courseID, paymentID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.createErr != nil {
		return 0, e.createErr
	}
	e.seq++
	e.enrollments[e.seq] = Enrollment{ID: e.seq, UserID: userID, CourseID: courseID, PaymentID: paymentID}
	return e.seq, nil
}

func (e *Enrollments) Delete(_ context.Context, enrollmentID int64) error {
	e.record("delete", enrollmentID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleteErr != nil {
		return e.deleteErr
	}
	delete(e.enrollments, enrollmentID)
	return nil
}

func (e *Enrollments) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.enrollments)
}

// Capacity is an in-memory coursesaga.CapacityService tracking remaining
// seats per course. Adjusting below zero seats is refused.
type Capacity struct {
	Recorder
	mu     sync.Mutex
	seats  map[int64]int
	err    error
	refuse bool
}

var _ coursesaga.CapacityService = (*Capacity)(nil)

func NewCapacity(seats map[int64]int) *Capacity {
	c := &Capacity{seats: make(map[int64]int)}
	for id, n := range seats {
		c.seats[id] = n
	}
	return c
}

// FailWith makes Adjust fail with err.
func (c *Capacity) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Refuse makes Adjust report that it could not update.
func (c *Capacity) Refuse(refuse bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refuse = refuse
}

func (c *Capacity) Adjust(_ context.Context, courseID int64, delta int) (bool, error) {
	c.record("adjust", courseID, int64(delta))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if c.refuse || c.seats[courseID]+delta < 0 {
		return false, nil
	}
	c.seats[courseID] += delta
	return true, nil
}

// Seats returns the remaining seats of a course.
func (c *Capacity) Seats(courseID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seats[courseID]
}
