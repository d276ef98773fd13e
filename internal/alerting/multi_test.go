package alerting

import (
	"context"
	"errors"
	"testing"

	"lending-rate-alerts/internal/monitor"
)

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Notify(_ context.Context, _ monitor.Notice) error {
	s.calls++
	return s.err
}

func TestMultiDeliversWhenOneChannelSucceeds(t *testing.T) {
	failing := &stubNotifier{err: errors.New("down")}
	working := &stubNotifier{}

	m := NewMulti(failing, working)
	if err := m.Notify(context.Background(), testNotice()); err != nil {
		t.Fatalf("任一通道成功即视为送达: %v", err)
	}
	if failing.calls != 1 || working.calls != 1 {
		t.Fatal("所有通道都应被尝试")
	}
}

func TestMultiFailsWhenAllChannelsFail(t *testing.T) {
	m := NewMulti(&stubNotifier{err: errors.New("a down")}, &stubNotifier{err: errors.New("b down")})
	if err := m.Notify(context.Background(), testNotice()); err == nil {
		t.Fatal("全部通道失败应报错")
	}
}
