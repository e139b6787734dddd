// Package device classifies push-channel clients from their User-Agent.
// Mobile OS task-switching is the dominant disconnect cause for this engine,
// so connection logs and metrics distinguish mobile from desktop clients.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

// Info is a compact description of the connecting device.
type Info struct {
	Label  string
	Mobile bool
}

// Parse builds an Info from a raw User-Agent header. Empty or unparseable
// agents yield "Unknown Device".
func Parse(rawUA string) Info {
	if strings.TrimSpace(rawUA) == "" {
		return Info{Label: "Unknown Device"}
	}

	ua := useragent.New(rawUA)
	browser, _ := ua.Browser()

	parts := make([]string, 0, 3)
	if browser != "" {
		parts = append(parts, browser)
	}
	if os := ua.OS(); os != "" {
		parts = append(parts, "on", os)
	}
	if len(parts) == 0 {
		return Info{Label: "Unknown Device", Mobile: ua.Mobile()}
	}
	return Info{Label: strings.Join(parts, " "), Mobile: ua.Mobile()}
}
