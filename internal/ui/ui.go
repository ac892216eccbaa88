// Package ui renders consult client output.
package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mossy-p/consult-signaling/internal/models"
)

// Color palette
var (
	Primary = lipgloss.Color("#22d3ee")
	Doctor  = lipgloss.Color("#7C3AED")
	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Muted   = lipgloss.Color("#6B7280")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(Primary)
	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)
	BoldStyle    = lipgloss.NewStyle().Bold(true)

	DoctorBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F9FAFB")).
			Background(Doctor).
			Padding(0, 1).
			Bold(true)

	PatientBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F9FAFB")).
			Background(Primary).
			Padding(0, 1)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(1, 2)
)

func PrintError(msg string) {
	fmt.Println(ErrorStyle.Render("✗ " + msg))
}

func PrintWarning(msg string) {
	fmt.Println(WarningStyle.Render("! " + msg))
}

func PrintSuccess(msg string) {
	fmt.Printf("%s %s\n", SuccessStyle.Render("✓"), msg)
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", MutedStyle.Render("·"), msg)
}

// Badge renders a role label.
func Badge(role models.Role) string {
	switch role {
	case models.RoleDoctor:
		return DoctorBadge.Render("Doctor")
	case models.RolePatient:
		return PatientBadge.Render("Patient")
	}
	return MutedStyle.Render("unassigned")
}

// ShortID keeps the first block of a uuid.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RoomBox is the banner shown after joining.
func RoomBox(roomID, localID string, role models.Role) string {
	content := fmt.Sprintf("%s\n\nRoom:  %s\nYou:   %s\nRole:  %s",
		TitleStyle.Render("Consultation"),
		BoldStyle.Foreground(Primary).Render(roomID),
		MutedStyle.Render(localID),
		Badge(role),
	)
	return BoxStyle.Render(content)
}

// ChatLine formats one chat message.
func ChatLine(msg models.ChatMessage) string {
	return fmt.Sprintf("%s %s %s: %s",
		MutedStyle.Render(msg.SentAt.Local().Format("15:04")),
		Badge(msg.Role),
		ShortID(msg.From),
		msg.Text,
	)
}

// RenderRoom writes the membership table of a room snapshot.
func RenderRoom(w io.Writer, snap models.RoomSnapshot, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Room " + snap.ID)
	t.AppendHeader(table.Row{"#", "Member", "Role", "First", "In call"})

	for i, m := range snap.Members {
		first := ""
		if m.IsFirst {
			first = "yes"
		}
		t.AppendRow(table.Row{i + 1, m.ID, m.Role, first, now.Sub(m.JoinedAt).Round(time.Second)})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d members", len(snap.Members))})
	t.Render()
}
