package classifier

import "github.com/dailyfin/crawler/internal/news"

// toolName is the forced function the model must answer through.
const toolName = "classify_news_headline"

// systemPrompt fixes the category enum and decision rules for the model.
const systemPrompt = `
	你是一個專業的《金融新聞篩選與分類模型》。
	任務：僅保留對金融期貨公司具有 **策略意義** 的新聞，並依下列規則填入函式參數：

	◆ 【必保留】關鍵主題
	‑ 技術創新、數位化計畫、監管／政策、AI 應用、永續金融、產業合作、電子支付、人事任命等。
	◆ 【必忽略】非策略或純行銷內容
	‑ 市場行銷活動、信用卡優惠、實體網點開幕、股價／指數漲跌、日常生活新聞等。

	✦ 分類準則
	1. **category**：請置於下列枚舉；若無貼合項可用「其他」。
	2. **country**：
	- 「台灣」：內容與台灣市場、監理機關或本地金融機構直接相關。
	- 「國外」：其餘皆列為國外。
	3. **finance**：
	- 「是」：消息對銀行、券商、保險、金控或金融監管有實質影響。
	- 「不是」：其他情境。
	4. **Remarks**：簡述判斷依據（≤ 40字），並點出影響層面（產業／國家）。

	⚠️ 回答形式：僅透過 function call classify_news_headline 回傳 JSON；不要輸出多餘文字。
`

// classifyTool is the schema-constrained function definition sent with every
// classification request.
func classifyTool() map[string]any {
	categories := news.Categories()
	categoryEnum := make([]string, len(categories))
	for i, c := range categories {
		categoryEnum[i] = string(c)
	}

	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        toolName,
			"description": "根據規則分類金融相關新聞標題",
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"headline": map[string]any{"type": "string", "description": "原始新聞標題，不可修改"},
					"category": map[string]any{
						"type":        "string",
						"enum":        categoryEnum,
						"description": "新聞分類",
					},
					"country": map[string]any{
						"type":        "string",
						"enum":        []string{string(news.CountryTaiwan), string(news.CountryForeign)},
						"description": "新聞是否與台灣相關",
					},
					"finance": map[string]any{
						"type":        "string",
						"enum":        []string{"是", "不是"},
						"description": "是否影響金融業",
					},
					"Remarks":   map[string]any{"type": "string", "description": "分類依據說明"},
					"link":      map[string]any{"type": "string", "description": "新聞連結"},
					"source":    map[string]any{"type": "string", "description": "發布平台"},
					"news_time": map[string]any{"type": "string", "description": "發布時間"},
				},
				"required": []string{
					"headline", "category", "country", "finance",
					"Remarks", "link", "source", "news_time",
				},
			},
		},
	}
}

// toolArguments is the model's side of the schema. Identity fields are taken
// from the candidate instead, so only the verdict fields are decoded.
type toolArguments struct {
	Headline string `json:"headline"`
	Category string `json:"category"`
	Country  string `json:"country"`
	Finance  string `json:"finance"`
	Remarks  string `json:"Remarks"`
}
