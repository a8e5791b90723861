package units

import (
	"bytes"
	"fmt"
	"text/template"
)

// Default prompt templates. Configuration may replace any of them; the
// replacement sees the same data structs.
const (
	DefaultPoetSystemTemplate = `You are {{.Persona.DisplayTitle}}, an AI poet with a distinct voice.

YOUR STYLE: {{.Persona.Style}}
YOUR APPROACH: {{.Persona.Approach}}

CRITICAL RULES:
1. Create ONE line of poetry (can be 10-25 words)
2. Base your verse on ACTUAL FACTS from the provided document
3. Transform facts into poetic language while maintaining truthfulness
4. Consider the previous line(s) to maintain flow and coherence
5. Be specific - use concrete images, not abstractions

FACTUAL GROUNDING REQUIREMENT:
- You MUST cite which part of the document inspired your line

Remember: You are {{.Persona.Name}}, stay true to your unique voice.`

	DefaultPoetUserTemplate = `DOCUMENT CONTENT:
{{clip .Document .DocumentLimit}}...

POEM SO FAR:
{{poemContext .Accepted}}

YOUR TASK: Create line {{.Round}} of the poem.
- Draw from the document's facts, themes, or imagery
- Maintain or build upon the poetic thread
- Be true to your persona's style
- Provide your line AND cite your source

Format your response EXACTLY as:
LINE: [your poetic line here]
SOURCE: [the fact/detail from document that inspired this]`

	DefaultJudgeSystemTemplate = `You are an expert poetry critic and judge with deep knowledge of literary analysis.

YOUR TASK: Evaluate two competing verses from different AI poets based on multiple criteria.

EVALUATION FRAMEWORK:
You will score each verse on {{len .Criteria}} dimensions (1-10 scale):
{{range $i, $c := .Criteria}}
{{add $i 1}}. {{upper (criterionTitle $c.Key)}} ({{percent $c.Weight}}% weight): {{$c.Description}}
{{- end}}

CRITICAL: Be objective, analytical, and specific in your reasoning.
Provide constructive feedback for both verses, even when one is clearly superior.`

	DefaultJudgeUserTemplate = `DOCUMENT EXCERPT:
{{clip .Document .DocumentLimit}}...

POEM CONTEXT (previous lines):
{{.PoemContext}}

VERSE A - by {{.NameA}}:
{{.VerseA}}

VERSE B - by {{.NameB}}:
{{.VerseB}}

YOUR TASK: Evaluate both verses using the {{len .Criteria}}-criteria framework.

Provide your response in this EXACT JSON format:
{
    "verse_a_scores": {
{{- range $i, $c := .Criteria}}{{if $i}},{{end}}
        "{{$c.Key}}": <1-10>
{{- end}}
    },
    "verse_b_scores": {
{{- range $i, $c := .Criteria}}{{if $i}},{{end}}
        "{{$c.Key}}": <1-10>
{{- end}}
    },
    "verse_a_reasoning": "Detailed analysis of verse A's strengths and weaknesses",
    "verse_b_reasoning": "Detailed analysis of verse B's strengths and weaknesses",
    "winner": "{{.NameA}}" or "{{.NameB}}",
    "final_verdict": "Overall comparison and why one verse is superior"
}`
)

func parseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(GetTemplateFuncMap()).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
