// Package news defines the domain types and ports shared by the ingestion
// pipeline stages.
package news

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Candidate is a deduplicated, recency-filtered article reference produced by
// the collector. Keys are "{term}_{ordinal}" and unique within one run.
type Candidate struct {
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// Country is the jurisdiction of a classified headline.
type Country string

// Jurisdiction values returned by the classification schema.
const (
	CountryTaiwan  Country = "台灣"
	CountryForeign Country = "國外"
)

// Valid reports whether the country is one of the schema values.
func (c Country) Valid() bool {
	return c == CountryTaiwan || c == CountryForeign
}

// Category is the closed classification label set.
type Category string

// Classification labels. CategoryOther is the catch-all the model falls back
// to when nothing fits.
const (
	CategoryPersonnel      Category = "人事變動"
	CategoryTechInnovation Category = "技術創新"
	CategoryPartnership    Category = "產業合作"
	CategoryNewFeature     Category = "新功能"
	CategoryAI             Category = "AI相關"
	CategoryESGFinance     Category = "永續金融"
	CategoryDataSharing    Category = "資料共享"
	CategoryCustomerCare   Category = "客服創新"
	CategoryPolicy         Category = "政策變動"
	CategoryMarketMoves    Category = "行情相關"
	CategoryLifestyle      Category = "生活相關"
	CategoryTech           Category = "科技相關"
	CategoryShareholders   Category = "股東會與股東權益"
	CategoryListedStocks   Category = "個股、櫃買市場動態"
	CategoryEPayment       Category = "電子支付"
	CategoryOther          Category = "其他"
)

// Categories lists every valid label, in schema order.
func Categories() []Category {
	return []Category{
		CategoryPersonnel, CategoryTechInnovation, CategoryPartnership,
		CategoryNewFeature, CategoryAI, CategoryESGFinance,
		CategoryDataSharing, CategoryCustomerCare, CategoryPolicy,
		CategoryMarketMoves, CategoryLifestyle, CategoryTech,
		CategoryShareholders, CategoryListedStocks, CategoryEPayment,
		CategoryOther,
	}
}

// Valid reports whether the category is a member of the closed set.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// NormalizeCategory maps unknown labels to CategoryOther.
func NormalizeCategory(raw string) Category {
	c := Category(raw)
	if c.Valid() {
		return c
	}
	return CategoryOther
}

// RemarksMaxRunes caps the classification rationale length.
const RemarksMaxRunes = 40

// Classification is the model's validated verdict on one candidate.
type Classification struct {
	Key             string    `json:"key"`
	Headline        string    `json:"headline"`
	Link            string    `json:"link"`
	Source          string    `json:"source"`
	PublishedAt     time.Time `json:"published_at"`
	Category        Category  `json:"category"`
	Country         Country   `json:"country"`
	FinanceRelevant bool      `json:"finance_relevant"`
	Remarks         string    `json:"remarks"`
}

// Validate enforces the schema constraints the model must satisfy.
func (c Classification) Validate() error {
	if c.Headline == "" {
		return fmt.Errorf("classification %s: headline is empty", c.Key)
	}
	if !c.Category.Valid() {
		return fmt.Errorf("classification %s: unknown category %q", c.Key, c.Category)
	}
	if !c.Country.Valid() {
		return fmt.Errorf("classification %s: unknown country %q", c.Key, c.Country)
	}
	return nil
}

// TrimRemarks truncates the rationale to RemarksMaxRunes on a rune boundary.
func TrimRemarks(s string) string {
	if utf8.RuneCountInString(s) <= RemarksMaxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:RemarksMaxRunes])
}

// ClassifiedBatch holds the two disjoint finance-relevant partitions.
// Items the model marked not finance-relevant appear in neither.
type ClassifiedBatch struct {
	Domestic []Classification `json:"domestic"`
	Foreign  []Classification `json:"foreign"`
}

// ExcludedSource is the aggregator whose articles are never content-fetched.
const ExcludedSource = "奇摩新聞"

// Fetchable filters classifications down to the items whose content should be
// retrieved: finance-relevant and not from the excluded aggregator.
func Fetchable(items []Classification) []Classification {
	kept := make([]Classification, 0, len(items))
	for _, item := range items {
		if item.Source == ExcludedSource || !item.FinanceRelevant {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// FetchedArticle pairs a classification with its retrieved content. Content
// may be empty when the fetch was blocked or failed.
type FetchedArticle struct {
	Classification
	Content string `json:"content"`
}

// ArticleRecord is the persisted row shape. DailyID is unique only within
// InputDate and assigned at storage time.
type ArticleRecord struct {
	InputDate       time.Time `json:"input_date"`
	DailyID         int       `json:"daily_id"`
	Title           string    `json:"title"`
	Link            string    `json:"link"`
	Content         string    `json:"content"`
	Source          string    `json:"source"`
	PublishedAt     time.Time `json:"published_at"`
	Category        Category  `json:"category"`
	FinanceRelevant bool      `json:"finance_relevant"`
	Country         Country   `json:"country"`
	Remarks         string    `json:"remarks"`
}
