// Package onboarding is the employee-onboarding workflow the CLI runs. Each
// external call goes through a durable step, so a crashed or interrupted
// onboarding resumes without creating a second account or a second laptop
// order.
package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/durable-go/durable"
)

// Step labels.
const (
	LabelRecordInput     = "record_input"
	LabelCreateAccount   = "create_account"
	LabelProvisionLaptop = "provision_laptop"
	LabelGrantAccess     = "grant_access"
	LabelEnrollCourse    = "enroll_course"
	LabelNotifyManager   = "notify_manager"
)

// Labels lists the step labels in the order the workflow reaches them.
var Labels = []string{
	LabelRecordInput,
	LabelCreateAccount,
	LabelProvisionLaptop,
	LabelGrantAccess,
	LabelEnrollCourse,
	LabelNotifyManager,
}

// ErrNoEmployee is returned when a fresh execution starts without a name.
var ErrNoEmployee = errors.New("employee name is required")

// Employee is the workflow input.
type Employee struct {
	Name    string   `json:"name" msgpack:"name"`
	Email   string   `json:"email" msgpack:"email"`
	Manager string   `json:"manager" msgpack:"manager"`
	Courses []string `json:"courses" msgpack:"courses"`
}

// Account is what create_account returns.
type Account struct {
	UserID string `json:"user_id" msgpack:"user_id"`
	Email  string `json:"email" msgpack:"email"`
}

// Result is the workflow output.
type Result struct {
	Employee    Employee `json:"employee"`
	Account     Account  `json:"account"`
	Laptop      string   `json:"laptop"`
	Groups      []string `json:"groups"`
	Enrollments []string `json:"enrollments"`
	Notified    bool     `json:"notified"`
}

// Services performs the external side effects.
type Services interface {
	CreateAccount(ctx context.Context, emp Employee) (Account, error)
	ProvisionLaptop(ctx context.Context, acct Account) (string, error)
	GrantAccess(ctx context.Context, acct Account) ([]string, error)
	Enroll(ctx context.Context, acct Account, course string) (string, error)
	NotifyManager(ctx context.Context, emp Employee, acct Account) error
}

// Simulation injects faults into a pass. Each field names a step label; an
// empty field injects nothing.
type Simulation struct {
	// CrashBefore asserts the interruption signal just before the step is
	// reached, so its record is never written.
	CrashBefore string

	// CrashDuring asserts the signal while the step's work runs, so the
	// record is left RUNNING and the next pass re-runs the work.
	CrashDuring string

	// FailAt makes the step's work return an error.
	FailAt string
}

func (s Simulation) before(sig *durable.Interrupt, labels ...string) {
	for _, label := range labels {
		if s.CrashBefore == label {
			sig.Assert("simulated crash before " + label)
			return
		}
	}
}

func (s Simulation) after(sig *durable.Interrupt, label string) {
	if s.CrashDuring == label {
		sig.Assert("simulated crash during " + label)
	}
}

func (s Simulation) fail(label string) error {
	if s.FailAt == label {
		return fmt.Errorf("simulated failure in %s", label)
	}
	return nil
}

// faulty wraps work with the simulation for label.
func faulty[T any](sim Simulation, sig *durable.Interrupt, label string, work func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		if err := sim.fail(label); err != nil {
			var zero T
			return zero, err
		}
		v, err := work(ctx)
		sim.after(sig, label)
		return v, err
	}
}

// Workflow returns the onboarding workflow for emp. sig must be the token
// passed to durable.Run for the simulation to take effect.
//
// The first step records emp, so a resumed pass may pass a zero Employee
// and still onboard the original one.
func Workflow(emp Employee, svc Services, sim Simulation, sig *durable.Interrupt) durable.Workflow[Result] {
	return func(ctx context.Context, p *durable.Pass) (Result, error) {
		var res Result

		sim.before(sig, LabelRecordInput)
		input, err := durable.Step(ctx, p, LabelRecordInput, faulty(sim, sig, LabelRecordInput,
			func(context.Context) (Employee, error) {
				if emp.Name == "" {
					return Employee{}, ErrNoEmployee
				}
				return emp, nil
			}))
		if err != nil {
			return res, err
		}
		res.Employee = input

		sim.before(sig, LabelCreateAccount)
		acct, err := durable.Step(ctx, p, LabelCreateAccount, faulty(sim, sig, LabelCreateAccount,
			func(ctx context.Context) (Account, error) {
				return svc.CreateAccount(ctx, input)
			}))
		if err != nil {
			return res, err
		}
		res.Account = acct
		p.Progress("account ready", map[string]any{"user_id": acct.UserID})

		sim.before(sig, LabelProvisionLaptop, LabelGrantAccess)
		out, err := durable.Parallel(ctx, p,
			durable.Call(LabelProvisionLaptop, faulty(sim, sig, LabelProvisionLaptop,
				func(ctx context.Context) (string, error) {
					return svc.ProvisionLaptop(ctx, acct)
				})),
			durable.Call(LabelGrantAccess, faulty(sim, sig, LabelGrantAccess,
				func(ctx context.Context) ([]string, error) {
					return svc.GrantAccess(ctx, acct)
				})),
		)
		if err != nil {
			return res, err
		}
		res.Laptop, _ = out[0].(string)
		res.Groups, _ = out[1].([]string)

		sim.before(sig, LabelEnrollCourse)
		res.Enrollments, err = durable.ForEach(ctx, p, LabelEnrollCourse, input.Courses,
			func(ctx context.Context, course string) (string, error) {
				return faulty(sim, sig, LabelEnrollCourse, func(ctx context.Context) (string, error) {
					return svc.Enroll(ctx, acct, course)
				})(ctx)
			})
		if err != nil {
			return res, err
		}

		sim.before(sig, LabelNotifyManager)
		if err := durable.Do(ctx, p, LabelNotifyManager, func(ctx context.Context) error {
			_, err := faulty(sim, sig, LabelNotifyManager, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, svc.NotifyManager(ctx, input, acct)
			})(ctx)
			return err
		}); err != nil {
			return res, err
		}
		res.Notified = true

		return res, nil
	}
}
