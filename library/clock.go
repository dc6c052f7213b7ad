package library

import "time"

// Clock supplies the current time to the ledger.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// CallerSource yields the identity of whoever is making the current call.
type CallerSource interface {
	CurrentCaller() CallerID
}

// StaticCaller is a CallerSource that always reports the same account.
type StaticCaller CallerID

func (c StaticCaller) CurrentCaller() CallerID { return CallerID(c) }
