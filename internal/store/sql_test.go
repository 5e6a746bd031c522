package store

import (
	"strings"
	"testing"
)

func TestInboxSQL(t *testing.T) {
	tests := []struct {
		name     string
		q        InboxQuery
		ph       Placeholder
		contains []string
		args     int
	}{
		{"unfiltered", InboxQuery{}, Question, []string{"(to_run_id IS NULL)", "status = ?"}, 1},
		{"group", InboxQuery{Group: "g"}, Dollar, []string{"to_group = $1", "(to_run_id IS NULL AND to_group IS NULL)", "status = $2"}, 2},
		{"run and group no broadcast", InboxQuery{RunID: "r", Group: "g", ExcludeBroadcasts: true, IncludeRead: true, Limit: 5}, Dollar, []string{"to_run_id = $1 OR to_group = $2", "LIMIT $3"}, 3},
	}
	for _, tt := range tests {
		q, args := InboxSQL(tt.q, tt.ph)
		for _, c := range tt.contains {
			if !strings.Contains(q, c) {
				t.Errorf("%s: query %q missing %q", tt.name, q, c)
			}
		}
		if len(args) != tt.args {
			t.Errorf("%s: got %d args, want %d", tt.name, len(args), tt.args)
		}
		if !strings.HasSuffix(strings.SplitN(q, " LIMIT", 2)[0], "ORDER BY created_at ASC, seq ASC") {
			t.Errorf("%s: ordering: %q", tt.name, q)
		}
	}
	q, _ := InboxSQL(InboxQuery{RunID: "r", ExcludeBroadcasts: true}, Question)
	if strings.Contains(q, "to_group IS NULL") {
		t.Errorf("excluded broadcasts still queried: %q", q)
	}
}
