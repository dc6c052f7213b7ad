package library

import (
	"fmt"
	"io"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

// PrettyBook formats a book for lists.
func PrettyBook(b Book, available int, titleWidth int) string {
	return fmt.Sprintf("%-5d %-*s %-8s %3d/%-3d %d:%d",
		b.ID, titleWidth, truncate(b.Title, titleWidth), b.Category, available, b.TotalCopies,
		b.Location.Drawer, b.Location.Column)
}

// PrettyMember formats a member for lists.
func PrettyMember(m Member, nameWidth int) string {
	return fmt.Sprintf("%-5d %-*s %-25s %-5t", m.ID, nameWidth, truncate(m.DisplayName, nameWidth), m.Account, m.IsMember)
}

// PrettyLoan formats a loan for lists. Overdue loans are flagged at now.
func PrettyLoan(l Loan, now time.Time) string {
	status := l.Status().String()
	if l.IsOverdue(now) {
		status = "overdue"
	}
	return fmt.Sprintf("%-36s %-5d %-20s %-17s %-8s", l.ID, l.BookID, l.Caller, l.DueAt.Format("2006-01-02 15:04"), status)
}

// TitleWidth picks a title column width for a terminal termWidth columns
// wide. Non-positive widths fall back to 30.
func TitleWidth(termWidth int) int {
	const fixed = 5 + 1 + 8 + 1 + 7 + 1 + 7 + 2
	if termWidth <= 0 {
		return 30
	}
	return max(10, min(60, termWidth-fixed))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// Rule is a horizontal separator n characters wide.
func Rule(n int) string { return strings.Repeat("-", n) }
