package tools

import (
	"context"
	_ "embed"
	"strings"
	"time"
)

//go:embed support_policy.md
var supportPolicy string

const (
	principlesHeader = "## Core Principles"
	faqHeader        = "## Common Questions & Answers"
)

var supportKeywords = map[string]string{
	"financial advice": "Is this financial advice?",
	"legal":            "Is this financial advice?",
	"methodology":      "How do you find bullish call option setups?",
	"bullish":          "How do you find bullish call option setups?",
	"flow":             "Do you track unusual options flow?",
	"unusual":          "Do you track unusual options flow?",
	"access":           "How do I access the full features?",
	"account":          "How do I manage my account?",
	"api key":          "How do I manage my account?",
	"missing":          "My dashboard isn't loading or a stock is missing",
	"load":             "My dashboard isn't loading or a stock is missing",
	"referral":         "How does the referral program work?",
	"feedback":         "Handling Negative Feedback",
	"bug":              "Handling Negative Feedback",
	"feature":          "Handling Feature Requests",
	"privacy":          "Data, Privacy, & Security",
	"security":         "Data, Privacy, & Security",
	"payment":          "How is my payment information handled?",
	"data":             "Do you use my stock queries",
}

// SupportAnswer is the policy excerpt returned for a topic.
type SupportAnswer struct {
	Topic   string `json:"topic"`
	Matched bool   `json:"matched"`
	Content string `json:"content"`
}

func headerLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	return n
}

// policySection returns the section whose header contains phrase, up to the next
// header of the same or a higher level.
func policySection(doc, phrase string) (string, bool) {
	lines := strings.Split(doc, "\n")
	start, level := -1, 0
	for i, line := range lines {
		lvl := headerLevel(line)
		if lvl == 0 {
			continue
		}
		if start >= 0 && lvl <= level {
			return strings.TrimSpace(strings.Join(lines[start:i], "\n")), true
		}
		if start < 0 && strings.Contains(strings.ToLower(line), phrase) {
			start, level = i, lvl
		}
	}
	if start >= 0 {
		return strings.TrimSpace(strings.Join(lines[start:], "\n")), true
	}
	return "", false
}

func faqTopics(doc string) []string {
	var topics []string
	inFAQ := false
	for _, line := range strings.Split(doc, "\n") {
		switch {
		case strings.HasPrefix(line, faqHeader):
			inFAQ = true
		case inFAQ && headerLevel(line) == 2:
			inFAQ = false
		case inFAQ && headerLevel(line) == 3:
			topics = append(topics, strings.TrimSpace(strings.TrimLeft(line, "#")))
		}
	}
	return topics
}

// AnswerSupportTopic looks topic up in the policy document.
func AnswerSupportTopic(doc, topic string) SupportAnswer {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = "general"
	}
	key := strings.ToLower(topic)

	if key == "general" {
		principles, ok := policySection(doc, strings.ToLower(strings.TrimPrefix(principlesHeader, "## ")))
		if !ok {
			principles = doc
		}
		var sb strings.Builder
		sb.WriteString(principles)
		sb.WriteString("\n\n## Available FAQ Topics (ask specifically for details):\n")
		for _, t := range faqTopics(doc) {
			sb.WriteString("- " + t + "\n")
		}
		return SupportAnswer{Topic: topic, Matched: true, Content: strings.TrimSpace(sb.String())}
	}

	phrase := key
	if mapped, ok := supportKeywords[key]; ok {
		phrase = strings.ToLower(mapped)
	}
	if section, ok := policySection(doc, phrase); ok {
		return SupportAnswer{Topic: topic, Matched: true, Content: section}
	}

	for _, line := range strings.Split(doc, "\n") {
		if headerLevel(line) == 0 && strings.Contains(strings.ToLower(line), phrase) {
			return SupportAnswer{Topic: topic, Matched: true, Content: strings.TrimSpace(line)}
		}
	}

	if faq, ok := policySection(doc, strings.ToLower(strings.TrimPrefix(faqHeader, "## "))); ok {
		return SupportAnswer{Topic: topic, Matched: false, Content: faq}
	}
	return SupportAnswer{Topic: topic, Matched: false, Content: "Could not find relevant policy information. Please contact a human supervisor."}
}

func supportPolicyTool(doc string) Descriptor {
	if doc == "" {
		doc = supportPolicy
	}
	return Descriptor{
		Name:        "get_support_policy",
		Description: "Get customer service policy and FAQ answers: refunds, account management, methodology and privacy.",
		Schema: Schema{Fields: []Field{
			{Name: "topic", Type: TypeString, Description: `Topic to look up (e.g. "privacy", "financial advice").`, Default: "general", MaxLength: 100},
		}},
		Timeout: 2 * time.Second,
		Handler: func(ctx context.Context, in Input) (any, error) {
			return AnswerSupportTopic(doc, in.String("topic")), nil
		},
	}
}
