package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// FakeServices is an in-process Services that counts every call. The CLI
// uses it in place of real HR systems.
type FakeServices struct {
	logger *slog.Logger

	mu    sync.Mutex
	calls map[string]int
}

// NewFakeServices returns a FakeServices that logs each side effect to
// logger. A nil logger discards.
func NewFakeServices(logger *slog.Logger) *FakeServices {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FakeServices{logger: logger, calls: make(map[string]int)}
}

// Calls returns how many times the side effect for label ran.
func (f *FakeServices) Calls(label string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[label]
}

func (f *FakeServices) record(label string, attrs ...any) {
	f.mu.Lock()
	f.calls[label]++
	f.mu.Unlock()
	f.logger.Info("side effect", append([]any{slog.String("step", label)}, attrs...)...)
}

// CreateAccount derives the user id from the employee's name.
func (f *FakeServices) CreateAccount(ctx context.Context, emp Employee) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	id := "u-" + strings.ReplaceAll(strings.ToLower(strings.TrimSpace(emp.Name)), " ", "-")
	email := emp.Email
	if email == "" {
		email = strings.TrimPrefix(id, "u-") + "@example.com"
	}
	f.record(LabelCreateAccount, slog.String("user_id", id))
	return Account{UserID: id, Email: email}, nil
}

func (f *FakeServices) ProvisionLaptop(ctx context.Context, acct Account) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tag := "LT-" + strings.ToUpper(strings.TrimPrefix(acct.UserID, "u-"))
	f.record(LabelProvisionLaptop, slog.String("asset", tag))
	return tag, nil
}

func (f *FakeServices) GrantAccess(ctx context.Context, acct Account) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	groups := []string{"employees", "vpn"}
	f.record(LabelGrantAccess, slog.Any("groups", groups))
	return groups, nil
}

func (f *FakeServices) Enroll(ctx context.Context, acct Account, course string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := fmt.Sprintf("%s:%s", course, acct.UserID)
	f.record(LabelEnrollCourse, slog.String("course", course))
	return ref, nil
}

func (f *FakeServices) NotifyManager(ctx context.Context, emp Employee, acct Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.record(LabelNotifyManager, slog.String("manager", emp.Manager), slog.String("user_id", acct.UserID))
	return nil
}
