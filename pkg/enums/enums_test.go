package enums

import "testing"

func TestParseCopyStatus(t *testing.T) {
	for _, status := range CopyStatuses() {
		got, err := ParseCopyStatus(string(status))
		if err != nil || got != status {
			t.Fatalf("round trip %q: got %q err %v", status, got, err)
		}
	}
	if _, err := ParseCopyStatus("checked-out"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestCopyStatusRetired(t *testing.T) {
	retired := map[CopyStatus]bool{CopyStatusLost: true, CopyStatusDamaged: true}
	for _, status := range CopyStatuses() {
		if status.IsRetired() != retired[status] {
			t.Fatalf("%s: unexpected retired=%v", status, status.IsRetired())
		}
	}
}

func TestCopyStatusesReturnsCopy(t *testing.T) {
	statuses := CopyStatuses()
	statuses[0] = "mutated"
	if CopyStatuses()[0] != CopyStatusAvailable {
		t.Fatalf("expected defensive copy")
	}
}

func TestParseCopyCondition(t *testing.T) {
	if c, err := ParseCopyCondition("excellent"); err != nil || c != CopyConditionExcellent {
		t.Fatalf("unexpected %q %v", c, err)
	}
	if _, err := ParseCopyCondition("Excellent"); err == nil {
		t.Fatalf("expected case-sensitive parse")
	}
}

func TestReservationStatusQueued(t *testing.T) {
	cases := map[ReservationStatus]bool{
		ReservationStatusPending:   true,
		ReservationStatusReady:     true,
		ReservationStatusFulfilled: false,
		ReservationStatusCancelled: false,
		ReservationStatusExpired:   false,
	}
	for status, want := range cases {
		if status.IsQueued() != want {
			t.Fatalf("%s: expected queued=%v", status, want)
		}
	}
}

func TestParsePermissionRejectsUnknown(t *testing.T) {
	if p, err := ParsePermission("fines.settle"); err != nil || p != PermFinesSettle {
		t.Fatalf("unexpected %q %v", p, err)
	}
	if _, err := ParsePermission("admin"); err == nil {
		t.Fatalf("expected error for unknown permission")
	}
}

func TestLoanStatusClosed(t *testing.T) {
	if !LoanStatusReturned.IsClosed() || !LoanStatusLost.IsClosed() {
		t.Fatalf("returned and lost loans are closed")
	}
	if LoanStatusActive.IsClosed() || LoanStatusOverdue.IsClosed() {
		t.Fatalf("active and overdue loans are open")
	}
}
