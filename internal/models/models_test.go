package models

import (
	"testing"
	"time"
)

func TestNormalizeTeamRole(t *testing.T) {
	tests := []struct {
		name string
		in   TeamRole
		want TeamRole
	}{
		{name: "owner legacy", in: TeamRole("OWNER"), want: TeamRoleOwner},
		{name: "member legacy", in: TeamRole("MEMBER"), want: TeamRoleMember},
		{name: "reviewer legacy", in: TeamRole("REVIEWER"), want: TeamRoleReviewer},
		{name: "owner canonical", in: TeamRoleOwner, want: TeamRoleOwner},
		{name: "padded", in: TeamRole(" member "), want: TeamRoleMember},
		{name: "unknown", in: TeamRole("speaker"), want: TeamRoleReviewer},
	}

	for _, tt := range tests {
		if got := NormalizeTeamRole(tt.in); got != tt.want {
			t.Fatalf("%s: NormalizeTeamRole(%q)=%q, want %q", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestCanEditSchedule(t *testing.T) {
	if !TeamRole("OWNER").CanEditSchedule() {
		t.Fatalf("expected legacy owner role to edit schedules")
	}
	if !TeamRoleMember.CanEditSchedule() {
		t.Fatalf("expected member to edit schedules")
	}
	if TeamRoleReviewer.CanEditSchedule() {
		t.Fatalf("reviewer must not edit schedules")
	}
}

func TestScheduleLocationFallsBackToUTC(t *testing.T) {
	if got := (Schedule{}).Location(); got != time.UTC {
		t.Fatalf("empty timezone: got %v, want UTC", got)
	}
	if got := (Schedule{Timezone: "Not/AZone"}).Location(); got != time.UTC {
		t.Fatalf("invalid timezone: got %v, want UTC", got)
	}
}
