package aggregate

import (
	"fmt"
	"strings"

	"github.com/xeltica-studio/MisskeyTools/internal/models"
)

// FormatReport renders the daily status message delivered as a note or
// notification. Deltas compare today against the yesterday snapshot the
// worker selected (all-zero when the account has no history).
func FormatReport(today, yesterday models.Record, account models.Account) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Daily activity report for %s\n\n", account.Session.Acct())
	fmt.Fprintf(&b, "Notes: %d (%s)\n", today.NotesCount, formatDelta(today.NotesCount-yesterday.NotesCount))
	fmt.Fprintf(&b, "Following: %d (%s)\n", today.FollowingCount, formatDelta(today.FollowingCount-yesterday.FollowingCount))
	fmt.Fprintf(&b, "Followers: %d (%s)\n", today.FollowersCount, formatDelta(today.FollowersCount-yesterday.FollowersCount))
	fmt.Fprintf(&b, "Rating: %.1f", today.Rating)

	return b.String()
}

func formatDelta(delta int64) string {
	switch {
	case delta > 0:
		return fmt.Sprintf("+%d", delta)
	case delta < 0:
		return fmt.Sprintf("%d", delta)
	default:
		return "±0"
	}
}
