package enrich

import (
	"fmt"
	"unicode/utf8"
)

const maxPromptContentRunes = 12000

func buildPrompt(text, title, source string) string {
	if utf8.RuneCountInString(text) > maxPromptContentRunes {
		text = string([]rune(text)[:maxPromptContentRunes])
	}

	return fmt.Sprintf(`Analyze the following security news article and respond in JSON.

Title: %s
Source: %s
Content:
%s

Provide:
1. summary: a summary in Traditional Chinese (50-150 characters)
2. translation: translate English articles into Traditional Chinese, Chinese articles into English
3. how_to_exploit: how an attacker could exploit the issue and how to defend against it (100-200 characters)
4. keywords: 3-10 keywords as an array of strings

Response format:
{
  "summary": "...",
  "translation": "...",
  "how_to_exploit": "...",
  "keywords": ["keyword1", "keyword2"]
}

Make sure the response is valid JSON.`, title, source, text)
}
