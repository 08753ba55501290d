package prompt

import (
	"fmt"
	"strings"
)

// PersonaPrompt is the system prompt that casts the model as a character.
func PersonaPrompt(character, book, description string) string {
	return fmt.Sprintf(`
I want you to act like %[1]s from %[2]s.
Answer in the user's language as concisely as possible.
The following describes %[1]s. Stay within this description and expand on it only where the story supports it:
%[3]s`, character, book, description)
}

// AnswerPrompt is the user turn for a grounded role-play answer.
func AnswerPrompt(book, context, query, character string) string {
	return fmt.Sprintf(`
- Relevant passages from %[1]s: %[2]s
- User question: %[3]s
You are now %[4]s answering the user's question.
If the question relates to the novel, reuse the original lines from the novel where you can.
Respond using the tone, manner and vocabulary %[4]s would use.
You know everything %[4]s knows.
Never say you are playing %[4]s; you know the answer because you are %[4]s.
`, book, context, query, character)
}

const chapterGuide = `
Analyse the novel chapter below and describe each element in the given format:
- # Characters: the main characters and important supporting characters.
- # Plot: the core events, the main conflicts, turning points or decisive moments.
- # Setting: where the story mainly takes place.
- # Point of view: the narrative perspective, such as first or third person.
- # Theme: the central idea or message.
- # Style: the writing style, for example realistic, abstract, poetic or allegorical.

Example chapter:

In a quiet old village, Li Bai walks drunk along the cobbled road, suddenly stops, looks up at the stars and begins to recite. Du Fu and Wang Zhihuan stand aside, quietly discussing Li Bai's talent. Only their voices break the silence of the night as moonlight falls on the old stone houses.

---

# Characters:
- Main: Li Bai
- Supporting: Du Fu, Wang Zhihuan

# Plot:
- Li Bai walks drunk along the road, stops to look at the stars and recites.
- Du Fu and Wang Zhihuan discuss Li Bai's talent.

# Setting:
- Scene 1: the cobbled road of a quiet old village
- Scene 2: old stone houses under the moon at night

# Point of view:
- Third person

# Theme:
- Praise of nature and poetry, respect between friends

# Style:
- Lyrical and descriptive, emphasising feeling and atmosphere

---
`

// ChapterPrompt asks for a structured summary of a whole chapter.
func ChapterPrompt(title, text string) string {
	var b strings.Builder
	b.WriteString(chapterGuide)
	fmt.Fprintf(&b, "\nChapter to analyse:\n%s\n%s\nBegin:\n", title, text)
	return b.String()
}

// ChapterContinuePrompt extends a previous summary with the next part of a
// long chapter.
func ChapterContinuePrompt(title, text, summaryBefore string) string {
	var b strings.Builder
	b.WriteString(chapterGuide)
	fmt.Fprintf(&b, "\nPart of the chapter to analyse:\n%s\n%s\n\n---\n\n", title, text)
	fmt.Fprintf(&b, "Summary of the previous parts; continue from it:\n%s\n\nBegin:\n", summaryBefore)
	return b.String()
}

// MemorySystemPrompt steers memory extraction toward character description.
const MemorySystemPrompt = "From the following novel passage, extract and expand only the descriptions of the characters, following the instructions."

// MemoryPrompt asks for the main character's memory bank as a list of
// entries.
func MemoryPrompt(title, text string) string {
	return fmt.Sprintf(`
From the novel text below, extract the main character's memory bank in the given format:
%s %s
`, title, text) + `
Format:
[
    {
        'Date': 'for example: spring 2023',
        'Location': 'detailed place or scene',
        'EventSummary': 'short overview',
        'Details': {
            'Action': 'main behaviour or action',
            'Dialogue': 'key dialogue or exchange',
            'Observations': 'other notable details or background'
        },
        'EmotionalResponse': 'the character's main emotion or reaction',
        'CharactersInvolved': ['Person A', 'Person B'],
        'Impact': 'direct or potential impact on the plot or the character'
    },
    // ... more entries
]
`
}

// TranslateSystemPrompt is the system prompt for translation.
const TranslateSystemPrompt = "You are an expert academic translator."

// TranslatePrompt asks for text translated into language.
func TranslatePrompt(text, language string) string {
	return fmt.Sprintf(`
%[1]s
Translate the text above into %[2]s. Keep all academic terms and abbreviations in English and translate everything else into %[2]s. Output only the translation and keep the original formatting.
`, text, language)
}

// OptimizeQueryPrompt asks for a query rewritten for vector search.
func OptimizeQueryPrompt(query, language string) string {
	return fmt.Sprintf("Translate the user's question into %s, then rephrase it into an exact, standardized query for vector database search. "+
		"Keep the essential elements and core concepts of the original question so that it is most likely to match precisely in a vectorized text database. "+
		"Output only the final optimized query:%s", language, query)
}
