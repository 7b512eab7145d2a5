package answering

const (
	SystemMessage = `You answer questions about a single document uploaded by the user.
Use only the provided context passages and the conversation so far.
If the context does not contain the answer, say that you don't know.`

	AnswerPromptTmpl = `Context passages from the document, most relevant first:
{{range $i, $c := .Chunks}}
<PASSAGE {{inc $i}}>
{{$c.Text}}
</PASSAGE {{inc $i}}>
{{end}}
{{- if .History}}
Conversation so far:
{{range .History}}
{{.Role}}: {{.Content}}
{{- end}}
{{end}}
Question: {{.Question}}
Answer:`
)
