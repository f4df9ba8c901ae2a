package tui

import (
	"gmaildu/internal/analyze"

	gmailv1 "google.golang.org/api/gmail/v1"
)

// Async message types for Bubble Tea commands.

type authURLMsg string

type authResultMsg struct {
	service *gmailv1.Service
	err     error
}

type scanProgressMsg struct {
	done  int
	total int
}

type scanDoneMsg struct {
	err error
}

type reportMsg struct {
	report *analyze.Report
	err    error
}

type statusMsg string
