package documents

import (
	"strings"

	"brokerdesk/internal/completion"
	"brokerdesk/internal/forms"
	"brokerdesk/internal/store"
)

const teaserInstructions = `You write anonymous sale teasers for a business brokerage.
The teaser is read by prospective buyers before they sign a confidentiality agreement.
Never name the company, its owners, its customers or its lenders, and never give a web address.
Describe the region, not the exact address. Round financial figures.
Structure the teaser in short sections with these titles:
Business Overview, Market and Position, Financial Highlights, Transaction, Ideal Buyer.
Start each section with its title as a markdown heading, for example "## Business Overview".`

const termSheetInstructions = `You draft indicative term sheets for a business brokerage.
The term sheet is non-binding and is reviewed by the seller and their counsel.
Use the information provided and nothing else; where information is missing, write "To be agreed".
Structure the term sheet with these numbered sections:
1. Parties, 2. Transaction Structure, 3. Purchase Price, 4. Financing and Debt,
5. Due Diligence, 6. Transition and Employees, 7. Conditions Precedent, 8. Confidentiality and Exclusivity.
Put each numbered section title alone on its own line, for example "3. Purchase Price".`

// BuildRequest turns submitted answers into a completion request for kind.
// Teasers never see confidential answers.
func BuildRequest(q *forms.Questionnaire, kind store.DocumentKind, data forms.Data) *completion.Request {
	var (
		system  string
		length  completion.Length
		subject string
	)
	switch kind {
	case store.KindTermSheet:
		system = termSheetInstructions
		length = completion.LengthLong
		subject = q.Describe(data, false)
	default:
		system = teaserInstructions
		length = completion.LengthShort
		subject = q.Describe(data, true)
	}

	var user strings.Builder
	user.WriteString("Seller questionnaire answers:\n\n")
	user.WriteString(subject)

	return &completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: system},
			{Role: completion.RoleUser, Content: user.String()},
		},
		Length: length,
	}
}
