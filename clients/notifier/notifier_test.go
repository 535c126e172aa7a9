package notifier

import (
	"errors"
	"testing"
	"time"
)

type mockNotifier struct {
	alerts      []OpsAlert
	closeErr    error
	closeCalled bool
}

func (m *mockNotifier) SendOpsAlert(alert OpsAlert) {
	m.alerts = append(m.alerts, alert)
}

func (m *mockNotifier) Close() error {
	m.closeCalled = true
	return m.closeErr
}

func TestNewMultiNotifier_FiltersNil(t *testing.T) {
	mn := NewMultiNotifier(&mockNotifier{}, nil, &mockNotifier{}, nil)

	if mn.Count() != 2 {
		t.Errorf("expected 2 notifiers, got %d", mn.Count())
	}
}

func TestNewMultiNotifier_Empty(t *testing.T) {
	mn := NewMultiNotifier()
	if mn.Count() != 0 {
		t.Errorf("expected 0 notifiers, got %d", mn.Count())
	}
	// Must not panic with no notifiers.
	mn.SendOpsAlert(OpsAlert{Kind: AlertKindStartup})
}

func TestMultiNotifier_SendOpsAlert(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}
	mn := NewMultiNotifier(mock1, mock2)

	mn.SendOpsAlert(OpsAlert{
		Kind:     AlertKindDegraded,
		Severity: SeverityWarning,
		Title:    "Live updates degraded",
	})

	for i, m := range []*mockNotifier{mock1, mock2} {
		if len(m.alerts) != 1 {
			t.Fatalf("notifier %d: expected 1 alert, got %d", i, len(m.alerts))
		}
		if m.alerts[0].Kind != AlertKindDegraded {
			t.Errorf("notifier %d: unexpected kind %s", i, m.alerts[0].Kind)
		}
		if m.alerts[0].Timestamp.IsZero() {
			t.Errorf("notifier %d: expected timestamp to be filled in", i)
		}
	}
}

func TestMultiNotifier_Close(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{closeErr: errors.New("close failed")}
	mn := NewMultiNotifier(mock1, mock2)

	err := mn.Close()
	if err == nil || err.Error() != "close failed" {
		t.Errorf("expected close error, got %v", err)
	}
	if !mock1.closeCalled || !mock2.closeCalled {
		t.Error("expected every notifier to be closed")
	}
}

func TestThrottled(t *testing.T) {
	mock := &mockNotifier{}
	th := NewThrottled(mock, time.Minute)

	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	th.SendOpsAlert(OpsAlert{Kind: AlertKindDegraded})
	th.SendOpsAlert(OpsAlert{Kind: AlertKindDegraded})
	th.SendOpsAlert(OpsAlert{Kind: AlertKindRecovered})
	if len(mock.alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(mock.alerts))
	}

	now = now.Add(61 * time.Second)
	th.SendOpsAlert(OpsAlert{Kind: AlertKindDegraded})
	if len(mock.alerts) != 3 {
		t.Errorf("expected alert after cooldown, got %d", len(mock.alerts))
	}

	if err := th.Close(); err != nil || !mock.closeCalled {
		t.Errorf("Close should delegate, err=%v", err)
	}
}

func TestThrottledDisabled(t *testing.T) {
	mock := &mockNotifier{}
	th := NewThrottled(mock, 0)
	for i := 0; i < 3; i++ {
		th.SendOpsAlert(OpsAlert{Kind: AlertKindActionFailed})
	}
	if len(mock.alerts) != 3 {
		t.Errorf("expected all alerts with throttling disabled, got %d", len(mock.alerts))
	}
}
