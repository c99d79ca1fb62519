package proposal

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/store"
)

type fakeExec struct {
	calls atomic.Int32
	err   error
}

func (f *fakeExec) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "ran " + name, nil
}

type fakeNotifier struct{ got []*Proposal }

func (f *fakeNotifier) ProposalCreated(ctx context.Context, p *Proposal) error {
	f.got = append(f.got, p)
	return errors.New("slack down")
}

func newTestStore(t *testing.T, exec Executor) *Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "proposals.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewStore(st.DB(), config.NewRuntime(nil), exec)
}

func TestCreateDefaultsAndNotify(t *testing.T) {
	s := newTestStore(t, &fakeExec{})
	n := &fakeNotifier{}
	s.SetNotifier(n)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	p, err := s.Create(context.Background(), CreateParams{
		AgentID: "editor", Tool: "write_file",
		Arguments:   map[string]any{"path": "uploads/a.txt", "content": "x"},
		Description: "Create uploads/a.txt",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != StatusPending || len(p.ID) != 32 {
		t.Fatalf("unexpected proposal: %+v", p)
	}
	if !p.ExpiresAt.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected 7 day expiry, got %s", p.ExpiresAt)
	}
	if len(n.got) != 1 {
		t.Fatal("notifier not called")
	}

	got, err := s.Get(context.Background(), p.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Arguments["path"] != "uploads/a.txt" || got.Tool != "write_file" {
		t.Fatalf("arguments did not round-trip: %+v", got)
	}
	missing, err := s.Get(context.Background(), "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing id: %v %v", missing, err)
	}
}

func TestApproveExecutesOnce(t *testing.T) {
	exec := &fakeExec{}
	s := newTestStore(t, exec)
	ctx := context.Background()
	p, _ := s.Create(ctx, CreateParams{AgentID: "a", Tool: "update_option", Arguments: map[string]any{"name": "blogname"}})

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Approve(ctx, p.ID)
			if err != nil {
				t.Errorf("approve: %v", err)
				return
			}
			if res.Success {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || exec.calls.Load() != 1 {
		t.Fatalf("expected exactly one execution, wins=%d calls=%d", wins.Load(), exec.calls.Load())
	}
	got, _ := s.Get(ctx, p.ID)
	if got.Status != StatusApproved || got.Result != "ran update_option" || got.ResolvedAt.IsZero() {
		t.Fatalf("unexpected stored proposal: %+v", got)
	}
}

func TestRejectTwice(t *testing.T) {
	exec := &fakeExec{}
	s := newTestStore(t, exec)
	ctx := context.Background()
	p, _ := s.Create(ctx, CreateParams{AgentID: "a", Tool: "write_file"})

	first, err := s.Reject(ctx, p.ID)
	if err != nil || !first.Success {
		t.Fatalf("first reject: %+v %v", first, err)
	}
	second, err := s.Reject(ctx, p.ID)
	if err != nil || second.Success || !strings.HasPrefix(second.Error, ErrCodeAlreadyResolved) {
		t.Fatalf("second reject must fail: %+v %v", second, err)
	}
	approve, _ := s.Approve(ctx, p.ID)
	if approve.Success {
		t.Fatal("approving a rejected proposal must fail")
	}
	if exec.calls.Load() != 0 {
		t.Fatal("reject must not execute")
	}
	missing, _ := s.Act(ctx, "nope", "reject")
	if !strings.HasPrefix(missing.Error, ErrCodeNotFound) {
		t.Fatalf("expected not_found, got %+v", missing)
	}
	bad, _ := s.Act(ctx, p.ID, "delete")
	if !strings.HasPrefix(bad.Error, ErrCodeInvalidAction) {
		t.Fatalf("expected invalid_action, got %+v", bad)
	}
}

func TestApproveExecutionFailure(t *testing.T) {
	s := newTestStore(t, &fakeExec{err: errors.New("protected: option siteurl is protected")})
	ctx := context.Background()
	p, _ := s.Create(ctx, CreateParams{AgentID: "a", Tool: "update_option"})
	res, err := s.Approve(ctx, p.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Success || !strings.HasPrefix(res.Error, ErrCodeExecution) {
		t.Fatalf("expected execution failure, got %+v", res)
	}
	got, _ := s.Get(ctx, p.ID)
	if got.Status != StatusApproved || !strings.HasPrefix(got.Result, "Error:") {
		t.Fatalf("failure must still be terminal: %+v", got)
	}
}

func TestExpiryAndPurge(t *testing.T) {
	s := newTestStore(t, &fakeExec{})
	ctx := context.Background()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	old, _ := s.Create(ctx, CreateParams{AgentID: "a", Tool: "write_file"})
	fresh, _ := s.Create(ctx, CreateParams{AgentID: "b", Tool: "write_file"})
	done, _ := s.Create(ctx, CreateParams{AgentID: "a", Tool: "write_file"})
	if _, err := s.Reject(ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE proposals SET expires_at = ? WHERE id = ?`,
		store.Millis(now.Add(-time.Minute)), old.ID); err != nil {
		t.Fatal(err)
	}

	res, _ := s.Approve(ctx, old.ID)
	if !strings.HasPrefix(res.Error, ErrCodeExpired) {
		t.Fatalf("expected expired, got %+v", res)
	}

	pending, err := s.ListPending(ctx, "", 0)
	if err != nil || len(pending) != 1 || pending[0].ID != fresh.ID {
		t.Fatalf("unexpected pending list: %v %v", pending, err)
	}
	if byAgent, _ := s.ListPending(ctx, "a", 0); len(byAgent) != 0 {
		t.Fatalf("agent filter failed: %v", byAgent)
	}

	n, err := s.PurgeExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("purge: %d %v", n, err)
	}
	if p, _ := s.Get(ctx, done.ID); p == nil {
		t.Fatal("terminal proposals are not purged")
	}
}
