// Package triage suggests a category and severity for incoming reports.
// When a skill endpoint is configured the suggestion comes from there;
// otherwise a keyword heuristic runs locally so new cases never land
// without a starting point.
package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Suggestion is the triage outcome for one report.
type Suggestion struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
	Source   string `json:"source"` // "skill" or "heuristic"
}

// Client calls the external triage skill with a heuristic fallback.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

type skillRequest struct {
	TemplateName   string         `json:"templateName"`
	DisclosureType string         `json:"disclosureType"`
	Answers        map[string]any `json:"answers"`
}

type skillResponse struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
}

// Suggest returns a triage suggestion for a new report. Skill failures
// fall through to the heuristic rather than surfacing an error.
func (c *Client) Suggest(ctx context.Context, templateName, disclosureType string, answers map[string]any) Suggestion {
	if c.endpoint != "" {
		if s, err := c.callSkill(ctx, templateName, disclosureType, answers); err == nil {
			return s
		}
	}
	return heuristic(disclosureType, answers)
}

func (c *Client) callSkill(ctx context.Context, templateName, disclosureType string, answers map[string]any) (Suggestion, error) {
	body, err := json.Marshal(skillRequest{
		TemplateName:   templateName,
		DisclosureType: disclosureType,
		Answers:        answers,
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("marshal triage request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Suggestion{}, fmt.Errorf("build triage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Suggestion{}, fmt.Errorf("call triage skill: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Suggestion{}, fmt.Errorf("triage skill returned %d", resp.StatusCode)
	}

	var out skillResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Suggestion{}, fmt.Errorf("decode triage response: %w", err)
	}
	if out.Category == "" || out.Severity == "" {
		return Suggestion{}, fmt.Errorf("triage skill returned incomplete suggestion")
	}

	return Suggestion{Category: out.Category, Severity: out.Severity, Source: "skill"}, nil
}

var severityKeywords = map[string][]string{
	"CRITICAL": {"fraud", "bribery", "kickback", "embezzle", "assault", "threat"},
	"HIGH":     {"harassment", "discrimination", "retaliation", "safety", "theft"},
	"MEDIUM":   {"conflict of interest", "gift", "vendor", "policy violation"},
}

func heuristic(disclosureType string, answers map[string]any) Suggestion {
	text := strings.ToLower(flatten(answers))

	severity := "LOW"
	for _, level := range []string{"CRITICAL", "HIGH", "MEDIUM"} {
		if containsAny(text, severityKeywords[level]) {
			severity = level
			break
		}
	}

	category := disclosureType
	if category == "" {
		category = "GENERAL"
	}

	return Suggestion{Category: category, Severity: severity, Source: "heuristic"}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func flatten(answers map[string]any) string {
	var b strings.Builder
	for _, v := range answers {
		switch val := v.(type) {
		case string:
			b.WriteString(val)
			b.WriteString(" ")
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok {
					b.WriteString(s)
					b.WriteString(" ")
				}
			}
		}
	}
	return b.String()
}
