// Package coursesaga coordinates the course purchase workflow across
// independently owned services.
//
// A purchase is a saga: a sequence of steps, each committing locally in a
// different service, with a paired undo action per step. If any step
// fails, the coordinator undoes every step that already committed, newest
// first, and reports the original failure. For more on sagas, see
// Caitie McCaffrey's 2017 JOTB talk: https://www.youtube.com/watch?v=0UTOLRTwOX0
//
// Overview
//
//  1. Bind the steps to their collaborators:
//     - ValidateCourse checks the CourseCatalog.
//     - CreatePayment calls the PaymentService and records payment_id.
//     - CreateEnrollment needs payment_id and records enrollment_id.
//     - AdjustCapacity takes a seat from the CapacityService.
//  2. Register them in a StepRegistry and build a Plan. Building the plan
//     checks that every identifier a step reads is written by an earlier
//     step.
//  3. Run the plan with a Coordinator against a fresh SagaContext. The
//     Outcome reports the terminal status, the failure if any, and the
//     compensations that failed and need manual reconciliation.
//
// PurchaseSaga wraps all three for the common case:
//
//	saga, err := coursesaga.NewPurchaseSaga(deps, coursesaga.WithLogger(logger))
//	...
//	result, err := saga.RunPurchaseSaga(ctx, userID, courseID, 4900, "card")
//
// A Journal keeps the state of every saga for operators; PendingReconciliation
// lists the ones whose compensation did not complete.
package coursesaga
