package service

import "requesthub/internal/model"

// AnsweredAction is what the engine has to do when a patch moves a request to
// Answered, derived purely from the prior status and the notify flag.
type AnsweredAction struct {
	SendImmediateEmail bool
	// ResetNotifyFlag applies only on the Open-origin immediate path.
	ResetNotifyFlag bool
	CreateEvent     bool
	// EventProcessed marks the created event as already handled because an
	// immediate email covered it; unmarked events wait for the batch digest.
	EventProcessed bool
}

// DetermineAnsweredAction implements the Answered transition table. Requests
// already in a terminal-ish status (Answered/Closed/Resolved/Withdrawn) do not
// re-trigger on a no-op Answered patch.
func DetermineAnsweredAction(prior model.RequestStatus, notifyMeImmediately bool) AnsweredAction {
	switch {
	case prior == model.RequestStatusOpen && notifyMeImmediately:
		return AnsweredAction{SendImmediateEmail: true, ResetNotifyFlag: true, CreateEvent: true, EventProcessed: true}
	case prior == model.RequestStatusOpen:
		return AnsweredAction{CreateEvent: true}
	case prior == model.RequestStatusNonSourceable && notifyMeImmediately:
		return AnsweredAction{SendImmediateEmail: true, CreateEvent: true, EventProcessed: true}
	case prior == model.RequestStatusNonSourceable:
		return AnsweredAction{CreateEvent: true}
	default:
		return AnsweredAction{}
	}
}

// DetermineEventType maps a status transition to the notification event type,
// or "" when the transition produces no event. A nil newStatus means the patch
// requested no explicit status change (QA re-confirmation of an already
// answered request).
func DetermineEventType(
	prior model.RequestStatus,
	newStatus *model.RequestStatus,
	earlierAcceptedVersionExists bool,
) model.NotificationEventType {
	availableOrUpdated := model.EventAvailable
	if earlierAcceptedVersionExists {
		availableOrUpdated = model.EventUpdated
	}

	switch {
	case (prior == model.RequestStatusOpen || prior == model.RequestStatusNonSourceable) &&
		newStatus != nil && *newStatus == model.RequestStatusAnswered:
		return availableOrUpdated

	case (prior == model.RequestStatusAnswered || prior == model.RequestStatusClosed || prior == model.RequestStatusResolved) &&
		(newStatus == nil || *newStatus == prior):
		return availableOrUpdated

	case prior == model.RequestStatusOpen && newStatus != nil && *newStatus == model.RequestStatusNonSourceable:
		return model.EventNonSourceable

	default:
		return ""
	}
}
