// Package dispatch holds the host-side contract shared by channel providers:
// dispatch results, statuses, communication contexts and delivery reports.
package dispatch

import (
	"context"
	"errors"
)

// ErrInvalidArgument is returned when a required dispatch argument is nil.
var ErrInvalidArgument = errors.New("invalid argument")

// StatusCode classifies the outcome of a dispatch.
type StatusCode int

const (
	StatusSuccess StatusCode = iota
	StatusFailure
)

func (c StatusCode) String() string {
	switch c {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Status is the outcome of a dispatch together with a human-readable detail
// and the component that produced it.
type Status struct {
	Code   StatusCode
	Owner  string
	Detail string
}

// Success returns a successful Status.
func Success(owner, detail string) Status {
	return Status{Code: StatusSuccess, Owner: owner, Detail: detail}
}

// Failure returns a failed Status.
func Failure(owner, detail string) Status {
	return Status{Code: StatusFailure, Owner: owner, Detail: detail}
}

func (s Status) IsSuccess() bool { return s.Code == StatusSuccess }
func (s Status) IsFailure() bool { return s.Code != StatusSuccess }

// Result is the outcome of dispatching one message through a channel provider.
type Result struct {
	// ResourceID identifies the message at the provider, e.g. its Message-ID.
	ResourceID string

	// MessageString is the raw provider response, if any.
	MessageString string

	ChannelID         string
	ChannelProviderID string

	Status Status

	// Err holds the failure cause when Status is a failure.
	Err error
}

// CommunicationContext carries per-dispatch host state.
type CommunicationContext struct {
	ChannelID         string
	ChannelProviderID string

	// Reports receives the delivery report for the dispatch. A nil Reports
	// drops reports.
	Reports DeliveryReporter
}

// DeliveryReporter receives the side-channel notification of a dispatch
// outcome. Exactly one method is called per dispatch.
type DeliveryReporter interface {
	Dispatched(ctx context.Context, cc *CommunicationContext, content any, results []*Result)
	Error(ctx context.Context, cc *CommunicationContext, content any, results []*Result)
}

// SendDeliveryReports reports results to the context's reporter: Error when
// any result failed, Dispatched otherwise.
func SendDeliveryReports(ctx context.Context, cc *CommunicationContext, content any, results []*Result) {
	if cc == nil || cc.Reports == nil {
		return
	}
	if Failed(results) {
		cc.Reports.Error(ctx, cc, content, results)
		return
	}
	cc.Reports.Dispatched(ctx, cc, content, results)
}

// Failed reports whether any result is missing or failed.
func Failed(results []*Result) bool {
	for _, r := range results {
		if r == nil || r.Status.IsFailure() {
			return true
		}
	}
	return false
}

// NopReporter discards delivery reports.
type NopReporter struct{}

func (NopReporter) Dispatched(context.Context, *CommunicationContext, any, []*Result) {}
func (NopReporter) Error(context.Context, *CommunicationContext, any, []*Result)      {}
