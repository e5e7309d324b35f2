// internal/handlers/templates.go
package handlers

import "html/template"

const scheduleAckTemplate = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
	<h2>{{.Title}}</h2>
	<p>{{.Message}}</p>
	<dl>
		<dt>Order</dt><dd>{{.OrderID}}</dd>
		<dt>Slot</dt><dd>{{.Slot}}</dd>
		{{if .Address}}<dt>Address</dt><dd>{{.Address}}</dd>{{end}}
	</dl>
</body>
</html>`

const scheduleErrorTemplate = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<head><meta charset="utf-8"><title>{{.Code}}</title></head>
<body>
	<h2>{{.Message}}</h2>
</body>
</html>`

// Templates returns the HTML pages served to form submissions.
func Templates() *template.Template {
	t := template.Must(template.New("schedule_ack.html").Parse(scheduleAckTemplate))
	template.Must(t.New("schedule_error.html").Parse(scheduleErrorTemplate))
	return t
}
