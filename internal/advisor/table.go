// Package advisor produces the safety advisory attached to disaster alerts.
package advisor

import (
	"context"
	"fmt"
	"strings"

	"relief-service/internal/models"
)

// Generic is used whenever no specific advisory is available.
const Generic = "Stay alert and follow instructions from local authorities."

// Advisor returns advisory text for a disaster type and severity.
type Advisor interface {
	Advise(ctx context.Context, disasterType string, severity models.Severity) (string, error)
}

var advisories = map[string]map[models.Severity]string{
	"flood": {
		models.SeverityLow:    "Avoid walking or driving through shallow water and keep drains clear.",
		models.SeverityMedium: "Move valuables to higher floors and prepare to evacuate low-lying areas.",
		models.SeverityHigh:   "Evacuate to higher ground immediately and avoid all floodwater.",
	},
	"earthquake": {
		models.SeverityLow:    "Secure heavy furniture and review your family emergency plan.",
		models.SeverityMedium: "Drop, cover and hold on during shaking and expect aftershocks.",
		models.SeverityHigh:   "Move to open ground away from buildings and check for gas leaks before re-entering.",
	},
	"cyclone": {
		models.SeverityLow:    "Keep a radio on for weather bulletins and secure loose objects outdoors.",
		models.SeverityMedium: "Stock drinking water and stay indoors away from windows.",
		models.SeverityHigh:   "Move to a designated cyclone shelter now and do not venture near the coast.",
	},
	"fire": {
		models.SeverityLow:    "Keep flammable material away from heat sources and check smoke alarms.",
		models.SeverityMedium: "Close windows against smoke and keep exit routes clear.",
		models.SeverityHigh:   "Evacuate the area immediately and follow routes given by fire services.",
	},
	"landslide": {
		models.SeverityLow:    "Watch for cracks in the ground and tilting trees near slopes.",
		models.SeverityMedium: "Stay away from steep slopes and drainage channels during rain.",
		models.SeverityHigh:   "Leave slope-side buildings immediately and move to stable ground.",
	},
	"heatwave": {
		models.SeverityLow:    "Drink water regularly and avoid strenuous activity at midday.",
		models.SeverityMedium: "Stay indoors between noon and 4 pm and check on elderly neighbours.",
		models.SeverityHigh:   "Seek a cooled shelter and watch for signs of heat stroke.",
	},
	"tsunami": {
		models.SeverityLow:    "Stay away from beaches and follow coastal warnings.",
		models.SeverityMedium: "Move inland and away from harbours until the warning is lifted.",
		models.SeverityHigh:   "Move to high ground or far inland immediately. Do not wait for the wave.",
	},
}

// Table serves advisories from the built-in lookup table.
type Table struct{}

func (Table) Advise(ctx context.Context, disasterType string, severity models.Severity) (string, error) {
	return Lookup(disasterType, severity)
}

// Lookup finds the table entry for a type and severity.
func Lookup(disasterType string, severity models.Severity) (string, error) {
	bySeverity, ok := advisories[strings.ToLower(strings.TrimSpace(disasterType))]
	if !ok {
		return "", fmt.Errorf("no advisory for disaster type %q", disasterType)
	}
	text, ok := bySeverity[severity]
	if !ok {
		return "", fmt.Errorf("no advisory for %s severity %q", disasterType, severity)
	}
	return text, nil
}
