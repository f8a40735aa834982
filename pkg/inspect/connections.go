// Copyright © 2017 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package inspect implements debug handlers for the gateway.
package inspect

import (
	"html/template"
	"net/http"
	"sort"

	"github.com/TheThingsIndustries/gatekeeper/pkg/connection"
)

var tmpl = template.Must(template.New("inspect").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<title>Gatekeeper - Connections</title>
	<style>
	body {
		font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, 'Open Sans', 'Helvetica Neue', sans-serif;
		color: #222;
		font-size: 12pt;
	}
	code {
		font-family: Consolas, Monaco, "Andale Mono", "Ubuntu Mono", monospace;
	}
	table {
		border-collapse: collapse;
	}
	th, td {
		border-bottom: 1px solid #CCC;
		padding: 4px 8px;
		text-align: left;
	}
	td.unresolved {
		color: #999;
	}
	</style>
</head>
<body>
<h1>{{ len .Connections }} connections</h1>
<table>
<tr><th>Connection</th><th>Tenant</th><th>Device</th><th>Connected</th></tr>
{{ range .Connections }}
<tr>
<td><code>{{ .ID }}</code></td>
{{ if .Resolved }}
<td><code>{{ .Tenant }}</code></td>
<td><code>{{ .Device }}</code></td>
{{ else }}
<td class="unresolved" colspan="2">unresolved</td>
{{ end }}
<td>{{ .Connected.Format "2006-01-02T15:04:05Z07:00" }}</td>
</tr>
{{ end }}
</table>
</body>
</html>
`))

type data struct {
	Connections []connection.Entry
}

type entriesByID []connection.Entry

func (s entriesByID) Len() int           { return len(s) }
func (s entriesByID) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s entriesByID) Less(i, j int) bool { return s[i].ID < s[j].ID }

// Connections inspector
func Connections(c *connection.Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entries := entriesByID(c.Values())
		sort.Sort(entries)
		w.Header().Set("content-type", "text/html; charset=utf-8")
		tmpl.Execute(w, data{
			Connections: entries,
		})
	})
}
