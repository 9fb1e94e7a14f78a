package webhook

import "testing"

func TestPeekConnectAccountPresent(t *testing.T) {
	body := []byte(`{"id":"evt_1","account":"acct_123","type":"customer.created"}`)
	if got := peekConnectAccount(body); got != "acct_123" {
		t.Errorf("peekConnectAccount() = %q, want acct_123", got)
	}
}

func TestPeekConnectAccountAbsent(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"customer.created"}`)
	if got := peekConnectAccount(body); got != "" {
		t.Errorf("peekConnectAccount() = %q, want empty", got)
	}
}

func TestPeekConnectAccountMalformedBody(t *testing.T) {
	if got := peekConnectAccount([]byte(`not json`)); got != "" {
		t.Errorf("peekConnectAccount() = %q, want empty on malformed body", got)
	}
}

func TestDestinationTablePluralizesByDefault(t *testing.T) {
	if got := destinationTable("charge"); got != "charges" {
		t.Errorf("destinationTable(charge) = %q, want charges", got)
	}
}

func TestDestinationTablePlanSpecialCase(t *testing.T) {
	if got := destinationTable("plan"); got != "plans" {
		t.Errorf("destinationTable(plan) = %q, want plans", got)
	}
}

func TestTerminalPredicateCharge(t *testing.T) {
	pred := terminalPredicates["charge"]
	succeeded, _ := rawObjectFields([]byte(`{"status":"succeeded"}`))
	if !pred(succeeded) {
		t.Error("expected succeeded charge to be terminal")
	}
	pending, _ := rawObjectFields([]byte(`{"status":"pending"}`))
	if pred(pending) {
		t.Error("expected pending charge to not be terminal")
	}
}

func TestTerminalPredicateSubscription(t *testing.T) {
	pred := terminalPredicates["subscription"]
	canceled, _ := rawObjectFields([]byte(`{"status":"canceled"}`))
	if !pred(canceled) {
		t.Error("expected canceled subscription to be terminal")
	}
	active, _ := rawObjectFields([]byte(`{"status":"active"}`))
	if pred(active) {
		t.Error("expected active subscription to not be terminal")
	}
}
