package model

// ReportData is the writer's complete output: a short teaser, the full
// markdown report, follow-up questions, and optionally a structured payload
// the emailer can render without re-parsing markdown.
type ReportData struct {
	ShortSummary      string         `json:"short_summary"`
	MarkdownReport    string         `json:"markdown_report"`
	FollowupQuestions []string       `json:"followup_questions"`
	Payload           *ReportPayload `json:"payload,omitempty"`
}

// ReportMeta carries difficulty, duration, budget and region estimates.
type ReportMeta struct {
	Difficulty string `json:"difficulty"`
	Duration   string `json:"duration"`
	Budget     string `json:"budget"`
	Region     string `json:"region,omitempty"`
}

// TOCEntry is a table-of-contents entry with its outline level (2 or 3).
type TOCEntry struct {
	Title  string `json:"title"`
	Anchor string `json:"anchor"`
	Level  int    `json:"level"`
}

// NarrativeSection is a free-text section with optional bullets and callout.
type NarrativeSection struct {
	Heading    string   `json:"heading"`
	Paragraphs []string `json:"paragraphs,omitempty"`
	Bullets    []string `json:"bullets,omitempty"`
	Note       string   `json:"note,omitempty"`
}

// ShoppingItem is one row of the curated shopping list. URL and Price come
// from sanitized ProductItems; the remaining metadata is writer-authored.
type ShoppingItem struct {
	Position  int    `json:"position,omitempty"`
	Category  string `json:"category"`
	Product   string `json:"product"`
	Quantity  string `json:"quantity"`
	Rationale string `json:"rationale"`
	Price     string `json:"price,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ShoppingList is the rendered shopping-list section.
type ShoppingList struct {
	Heading   string         `json:"heading"`
	Intro     string         `json:"intro,omitempty"`
	Items     []ShoppingItem `json:"items"`
	EmptyHint string         `json:"empty_hint,omitempty"`
}

// StepDetail is a single work step with a measurable check criterion.
type StepDetail struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets,omitempty"`
	Check   string   `json:"check"`
	Tip     string   `json:"tip,omitempty"`
	Warning string   `json:"warning,omitempty"`
}

// StepsSection groups the numbered work steps.
type StepsSection struct {
	Heading string       `json:"heading"`
	Steps   []StepDetail `json:"steps"`
}

// TimeCostRow is one row of the time/cost table.
type TimeCostRow struct {
	WorkPackage string `json:"work_package"`
	Duration    string `json:"duration"`
	Cost        string `json:"cost"`
	Buffer      string `json:"buffer,omitempty"`
}

// TimeCostSection is the tabular time and cost plan.
type TimeCostSection struct {
	Heading string        `json:"heading"`
	Rows    []TimeCostRow `json:"rows"`
	Summary string        `json:"summary,omitempty"`
}

// FAQItem is a question/answer pair.
type FAQItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ReportPayload is the structured report contract between writer and
// emailer. Templates render from these fields rather than free text.
type ReportPayload struct {
	Title           string            `json:"title"`
	Teaser          string            `json:"teaser"`
	Meta            ReportMeta        `json:"meta"`
	TOC             []TOCEntry        `json:"toc,omitempty"`
	Preparation     NarrativeSection  `json:"preparation"`
	ShoppingList    ShoppingList      `json:"shopping_list"`
	StepByStep      StepsSection      `json:"step_by_step"`
	QualitySafety   NarrativeSection  `json:"quality_safety"`
	TimeCost        TimeCostSection   `json:"time_cost"`
	OptionsUpgrades *NarrativeSection `json:"options_upgrades,omitempty"`
	Maintenance     *NarrativeSection `json:"maintenance,omitempty"`
	FAQ             []FAQItem         `json:"faq,omitempty"`
	Followups       []string          `json:"followups,omitempty"`
	SearchSummary   string            `json:"search_summary,omitempty"`
}
