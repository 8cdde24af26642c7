// Package worker runs job handlers for messages consumed from a broker.
//
// A [Pool] runs consumer goroutines. Each delivery goes through the
// [Executor]:
//
//  1. every [Hook]'s BeforeProcess (a hook may return [ErrSkip])
//  2. the handler registered for the message type, wrapped in middleware
//  3. every hook's AfterProcess with the handler error
//  4. Ack on success, a delayed republish while retries remain, or
//     DeadLetter followed by AfterPermanentFailure
//
// Job state is not touched here; the tracking package supplies the hook
// that mirrors delivery outcomes onto job records.
package worker
