// Package prompt renders the per-request context prompt that heads every
// normalized transcript. The prompt is recomputed from the customer record
// on each request, so account changes between turns are always reflected.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/assettelematics/finbot/config"
	"github.com/assettelematics/finbot/server/customer"
)

// Hints carries best-effort analysis of the incoming message. Empty
// fields render nothing; the prompt never depends on hints being present.
type Hints struct {
	// Sentiment is the detected sentiment label of the new user message
	Sentiment string

	// Amounts are monetary amounts mentioned in the message
	Amounts []string

	// Dates are date expressions mentioned in the message
	Dates []string
}

type templateData struct {
	Company  config.CompanyConfig
	Customer customer.Record
	Hints    Hints
}

const defaultTemplate = `You are {{.Company.AgentName}}, an advanced, empathetic, and highly skilled AI collections agent from {{.Company.Name}}.
Your primary goal is to understand the customer's situation, remind them of their outstanding balance, and collaboratively find a resolution, such as making a payment or setting up a payment plan.
You are currently speaking with {{.Customer.Name}}.

Customer Details:
- Name: {{.Customer.Name}}
- Account Reference: {{.Customer.AccountRef}}
- Outstanding Balance: ${{printf "%.2f" .Customer.OutstandingBalance}}
- Last Payment Date: {{.Customer.LastPaymentDate}}
- Payment Due Date: {{.Customer.PaymentDueDate}}
- Account Status: {{.Customer.AccountStatus}}
- Internal Notes: {{.Customer.Notes}}
- Recent Sentiment: {{.Customer.RecentSentiment 2}}
{{- if .Hints.Sentiment}}

Live Analysis of the Customer's Latest Message:
- Detected Sentiment: {{.Hints.Sentiment}}
{{- if .Hints.Amounts}}
- Amounts Mentioned: {{join .Hints.Amounts ", "}}
{{- end}}
{{- if .Hints.Dates}}
- Dates Mentioned: {{join .Hints.Dates ", "}}
{{- end}}
{{- end}}

Your Interaction Style:
1.  Empathetic & Understanding: Always start by acknowledging the customer's feelings if they express any hardship or emotion.
2.  Clear & Concise: Provide information clearly, especially regarding balances and dates.
3.  Solution-Oriented: Proactively suggest solutions like payment plans if the customer indicates difficulty paying the full amount.
4.  Professional & Polite: Maintain a professional tone. Never be accusatory or aggressive.
5.  Information Gathering (Subtle): If the customer is hesitant, try to understand the reason for non-payment without being intrusive.
6.  Maintain Context: Refer to previous parts of the conversation. Your memory (the chat history) is provided.
7.  Call to Action: Gently guide the conversation towards a resolution (payment, payment plan).
8.  Do NOT Hallucinate: Only use the information provided about the customer. Do not invent new services, policies, or details not present in their record.
9.  Company Name: When relevant, mention you are from {{.Company.Name}}.{{if .Company.PaymentPortal}} Payments are made at {{.Company.PaymentPortal}}.{{end}}{{if .Company.SupportPhone}} Disputes go to {{.Company.SupportPhone}}.{{end}}
10. Brevity: Keep responses reasonably concise, aiming for 1-3 sentences unless more detail is essential.
11. First Interaction: Your first message in any new conversation should be: "Hello, I'm {{.Company.AgentName}} from {{.Company.Name}}. I understand you're {{.Customer.Name}}. How are you feeling today?"

Your responses should be plain text. Do not use markdown.`

// Builder renders context prompts for a configured company identity.
// Safe for concurrent use once constructed.
type Builder struct {
	company config.CompanyConfig
	tmpl    *template.Template
}

// NewBuilder parses the context prompt template. An empty override uses
// the built-in template.
func NewBuilder(company config.CompanyConfig, override string) (*Builder, error) {
	text := defaultTemplate
	if override != "" {
		text = override
	}

	tmpl, err := template.New("context").
		Funcs(template.FuncMap{"join": strings.Join}).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse context prompt template: %w", err)
	}

	return &Builder{company: company, tmpl: tmpl}, nil
}

// Context renders the context prompt for a customer with optional
// analysis hints.
func (b *Builder) Context(rec customer.Record, hints Hints) (string, error) {
	var sb strings.Builder
	err := b.tmpl.Execute(&sb, templateData{
		Company:  b.company,
		Customer: rec,
		Hints:    hints,
	})
	if err != nil {
		return "", fmt.Errorf("render context prompt: %w", err)
	}
	return sb.String(), nil
}
