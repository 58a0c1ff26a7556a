package checkout

import (
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/payment"
)

type Status string

const (
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCompensated Status = "compensated"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

const (
	StepValidate    = "validate"
	StepReserve     = "reserve"
	StepPay         = "pay"
	StepCommitOrder = "commit_order"
	StepFinalize    = "finalize"
)

type Step struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Execution is the progress record of one checkout, kept for polling.
type Execution struct {
	Token     string          `json:"token"`
	UserID    string          `json:"userId"`
	Status    Status          `json:"status"`
	Steps     []Step          `json:"steps"`
	Intent    *payment.Intent `json:"intent,omitempty"`
	OrderID   string          `json:"orderId,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (e *Execution) clone() Execution {
	out := *e
	out.Steps = append([]Step(nil), e.Steps...)
	if e.Intent != nil {
		in := *e.Intent
		out.Intent = &in
	}
	return out
}

func (e *Execution) finished() bool {
	return e.Status != StatusInProgress
}

type compensation struct {
	name   string
	action func() error
}
