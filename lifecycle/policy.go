package lifecycle

import (
	"cmp"
	"slices"

	"github.com/mmdatafocus/tradedocs/models"
)

// State is the policy lookup key. Converted is always false for types without a conversion flag.
type State struct {
	Status    models.DocumentStatus
	Converted bool
}

// ConversionRule describes how a document type is converted into its derived type.
type ConversionRule struct {
	Action models.Action
	Target models.DocumentType
	// status the source is advanced to when linked
	FulfilledStatus models.DocumentStatus
}

type policy struct {
	actions     map[State][]models.Action
	transitions map[models.DocumentStatus][]models.DocumentStatus
	// action used to reach a target status; change_status when absent
	transitionActions map[models.DocumentStatus]models.Action
	conversion        *ConversionRule
}

var policies = map[models.DocumentType]policy{
	models.DocumentTypePurchaseOrder: purchaseOrderPolicy,
	models.DocumentTypeSalesOrder:    salesOrderPolicy,
	models.DocumentTypeSalesChallan:  salesChallanPolicy,
}

func stateOf(t models.DocumentType, status models.DocumentStatus, converted bool) State {
	return State{Status: status, Converted: converted && t.HasConversionFlag()}
}

// AllowedActions returns every action permitted on a document of type t in the given state.
// Unmapped states yield the empty set.
func AllowedActions(t models.DocumentType, status models.DocumentStatus, converted bool) Set[models.Action] {
	p, ok := policies[t]
	if !ok {
		return NewSet[models.Action]()
	}
	return NewSet(p.actions[stateOf(t, status, converted)]...)
}

func AllowedActionsFor(doc models.TradeDocument) Set[models.Action] {
	return AllowedActions(doc.Type, doc.Status, doc.Converted)
}

// ReachableStatuses returns the statuses a direct status-change command may move to.
func ReachableStatuses(t models.DocumentType, status models.DocumentStatus) Set[models.DocumentStatus] {
	p, ok := policies[t]
	if !ok {
		return NewSet[models.DocumentStatus]()
	}
	return NewSet(p.transitions[status]...)
}

// ActionForTransition maps a status change to the action that performs it.
func ActionForTransition(t models.DocumentType, from, to models.DocumentStatus) (models.Action, bool) {
	if !ReachableStatuses(t, from).Has(to) {
		return "", false
	}
	if a, ok := policies[t].transitionActions[to]; ok {
		return a, true
	}
	return models.ActionChangeStatus, true
}

// StatusForAction returns the status a dedicated transition action moves a document of type t to.
func StatusForAction(t models.DocumentType, action models.Action) (models.DocumentStatus, bool) {
	for status, a := range policies[t].transitionActions {
		if a == action {
			return status, true
		}
	}
	return "", false
}

func Conversion(t models.DocumentType) (ConversionRule, bool) {
	p, ok := policies[t]
	if !ok || p.conversion == nil {
		return ConversionRule{}, false
	}
	return *p.conversion, true
}

// Check returns a NotAllowedError when action is not permitted on doc.
func Check(doc models.TradeDocument, action models.Action) error {
	if AllowedActionsFor(doc).Has(action) {
		return nil
	}
	return notAllowed(doc, action)
}

// CheckTransition validates a status change both against the reachable set and the allowed actions.
func CheckTransition(doc models.TradeDocument, to models.DocumentStatus) error {
	action, ok := ActionForTransition(doc.Type, doc.Status, to)
	if !ok {
		return notAllowed(doc, models.ActionChangeStatus)
	}
	return Check(doc, action)
}

func notAllowed(doc models.TradeDocument, action models.Action) error {
	return &models.NotAllowedError{
		Type:      doc.Type,
		Action:    action,
		Status:    doc.Status,
		Converted: doc.Frozen(),
	}
}

// Set is an immutable-by-convention set of comparable ordered values.
type Set[T cmp.Ordered] map[T]struct{}

func NewSet[T cmp.Ordered](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, v := range items {
		s[v] = struct{}{}
	}
	return s
}

func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

func (s Set[T]) Len() int {
	return len(s)
}

// Slice returns the members in sorted order.
func (s Set[T]) Slice() []T {
	out := make([]T, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func (s Set[T]) Equal(other Set[T]) bool {
	if len(s) != len(other) {
		return false
	}
	for v := range s {
		if !other.Has(v) {
			return false
		}
	}
	return true
}
