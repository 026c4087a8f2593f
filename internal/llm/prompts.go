package llm

import "strings"

// LanguagePlaceholder is replaced with the target language name when a
// translation prompt is rendered.
const LanguagePlaceholder = "{language}"

// TranslationPrompt is the default system prompt for a translator.
const TranslationPrompt = `You are a translator for language: {language}. ` +
	`Your only response should be the exact translation of input text in the {language} language.`

// RenderPrompt substitutes the language name into a prompt template. An empty
// template selects TranslationPrompt. A custom template without the
// placeholder gets the target language appended so the model still knows it.
func RenderPrompt(template, languageName string) string {
	template = strings.TrimSpace(template)
	if template == "" {
		template = TranslationPrompt
	}
	if !strings.Contains(template, LanguagePlaceholder) {
		return template + "\n\nTarget language: " + languageName + "."
	}
	return strings.ReplaceAll(template, LanguagePlaceholder, languageName)
}
