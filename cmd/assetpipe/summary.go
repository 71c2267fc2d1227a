// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/assetpipe/lib/processor"
)

var (
	summaryTitleStyle  = lipgloss.NewStyle().Bold(true)
	summaryOKStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	summaryFailedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	summaryMutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// renderSummary formats the result of a processing pass. Styling is
// applied only when styled is set.
func renderSummary(summary processor.Summary, elapsed time.Duration, styled bool) string {
	render := func(style lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return style.Render(text)
	}

	var builder strings.Builder
	builder.WriteString(render(summaryTitleStyle, "assetpipe"))
	fmt.Fprintf(&builder, " finished in %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(&builder, "  %s %d\n", render(summaryOKStyle, "processed"), summary.Processed)
	if summary.NonExistent > 0 {
		fmt.Fprintf(&builder, "  %s %d\n", render(summaryMutedStyle, "missing"), summary.NonExistent)
	}
	if summary.Pending > 0 {
		fmt.Fprintf(&builder, "  %s %d\n", render(summaryMutedStyle, "pending"), summary.Pending)
	}
	if len(summary.Failed) > 0 {
		fmt.Fprintf(&builder, "  %s %d\n", render(summaryFailedStyle, "failed"), len(summary.Failed))
		for _, path := range summary.Failed {
			fmt.Fprintf(&builder, "    %s\n", path)
		}
	}
	return builder.String()
}

func printSummary(w io.Writer, summary processor.Summary, elapsed time.Duration, styled bool) {
	io.WriteString(w, renderSummary(summary, elapsed, styled))
}
