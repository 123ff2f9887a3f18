// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"sort"
	"strings"
)

// AssistContext is the structured job-site context attached to a request.
//
// This struct is intentionally closed: the decoder rejects unknown fields,
// so free-form data cannot ride into the model prompt through the context
// channel. Everything here is rendered into labeled prompt sections by
// FormatForPrompt; nothing is interpreted as an instruction.
type AssistContext struct {
	Industry             string             `json:"industry,omitempty"`
	Country              string             `json:"country,omitempty"`
	CodeReferenceEnabled bool               `json:"code_reference_enabled,omitempty"`
	Job                  *JobContext        `json:"job,omitempty"`
	Equipment            *EquipmentContext  `json:"equipment,omitempty"`
	Client               *ClientContext     `json:"client,omitempty"`
	Documents            []DocumentContext  `json:"documents,omitempty"`
	DiagnosticData       *DiagnosticContext `json:"diagnostic_data,omitempty"`
}

// JobContext describes the work order the technician is on.
type JobContext struct {
	ID          string `json:"id,omitempty"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// EquipmentContext describes the unit being serviced.
type EquipmentContext struct {
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Year         int    `json:"year,omitempty"`
}

// ClientContext carries the non-PII subset of the customer record.
type ClientContext struct {
	Name     string `json:"name,omitempty"`
	Location string `json:"location,omitempty"`
}

// DocumentContext names an uploaded document available to this tenant.
// Only names travel here; document content reaches the model exclusively
// through retrieval.
type DocumentContext struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// DiagnosticContext carries structured readings from connected equipment.
type DiagnosticContext struct {
	Source   string            `json:"source,omitempty"`
	Readings map[string]string `json:"readings,omitempty"`
}

// ContextKind returns a coarse label for the audit record: "job",
// "equipment", "general", or "none".
func (c *AssistContext) ContextKind() string {
	switch {
	case c == nil:
		return "none"
	case c.Job != nil:
		return "job"
	case c.Equipment != nil:
		return "equipment"
	default:
		return "general"
	}
}

// ContextID returns the primary identifier for the audit record, empty
// when no job is attached.
func (c *AssistContext) ContextID() string {
	if c == nil || c.Job == nil {
		return ""
	}
	return c.Job.ID
}

// DocumentNames returns the names of the attached documents, used by the
// citation-source check alongside the tenant's retrieval registry.
func (c *AssistContext) DocumentNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Documents))
	for _, d := range c.Documents {
		if d.Name != "" {
			names = append(names, d.Name)
		}
	}
	return names
}

// FormatForPrompt renders the context as labeled sections for the system
// prompt. Values are data, never instructions; the renderer emits them
// under fixed headings so the model treats them as reference material.
func (c *AssistContext) FormatForPrompt() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	if c.Industry != "" || c.Country != "" {
		b.WriteString("## Trade Context\n")
		if c.Industry != "" {
			fmt.Fprintf(&b, "Industry: %s\n", c.Industry)
		}
		if c.Country != "" {
			fmt.Fprintf(&b, "Country: %s\n", c.Country)
		}
	}
	if c.Job != nil {
		b.WriteString("## Current Job\n")
		if c.Job.Type != "" {
			fmt.Fprintf(&b, "Type: %s\n", c.Job.Type)
		}
		if c.Job.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", c.Job.Description)
		}
		if c.Job.Status != "" {
			fmt.Fprintf(&b, "Status: %s\n", c.Job.Status)
		}
	}
	if c.Equipment != nil {
		b.WriteString("## Equipment\n")
		if c.Equipment.Make != "" {
			fmt.Fprintf(&b, "Make: %s\n", c.Equipment.Make)
		}
		if c.Equipment.Model != "" {
			fmt.Fprintf(&b, "Model: %s\n", c.Equipment.Model)
		}
		if c.Equipment.SerialNumber != "" {
			fmt.Fprintf(&b, "Serial: %s\n", c.Equipment.SerialNumber)
		}
		if c.Equipment.Year != 0 {
			fmt.Fprintf(&b, "Year: %d\n", c.Equipment.Year)
		}
	}
	if c.Client != nil {
		b.WriteString("## Client Site\n")
		if c.Client.Name != "" {
			fmt.Fprintf(&b, "Name: %s\n", c.Client.Name)
		}
		if c.Client.Location != "" {
			fmt.Fprintf(&b, "Location: %s\n", c.Client.Location)
		}
	}
	if len(c.Documents) > 0 {
		b.WriteString("## Available Documents\n")
		for _, d := range c.Documents {
			if d.Name != "" {
				fmt.Fprintf(&b, "- %s\n", d.Name)
			}
		}
	}
	if c.DiagnosticData != nil && len(c.DiagnosticData.Readings) > 0 {
		b.WriteString("## Diagnostic Readings\n")
		if c.DiagnosticData.Source != "" {
			fmt.Fprintf(&b, "Source: %s\n", c.DiagnosticData.Source)
		}
		// Sorted so identical requests render identical prompts.
		keys := make([]string, 0, len(c.DiagnosticData.Readings))
		for key := range c.DiagnosticData.Readings {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, "%s: %s\n", key, c.DiagnosticData.Readings[key])
		}
	}
	return b.String()
}
