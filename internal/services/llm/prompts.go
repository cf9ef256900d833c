package llm

const translationPrompt = `You translate speech transcripts.
Translate the user's transcript into %s.
Keep speaker labels, timestamps and line breaks exactly where they are.
Reply with the translated transcript only.`

const summaryPrompt = `You summarize speech transcripts.
Write the summary in %s, at most five sentences, neutral tone.
Respond with JSON only: {"summary": "...", "keywords": ["...", "..."]}
List up to eight keywords.`
