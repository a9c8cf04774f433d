// Package workpaper renders the audit-ready deliverable: an HTML
// document of extraction results, findings, and the verdict, with every
// cited value linked to its evidence location and a hash footer that
// makes post-export tampering detectable.
package workpaper

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html/template"
	"time"

	"github.com/ventro/backend/internal/core"
)

// Input bundles everything the composer needs for one session.
type Input struct {
	Session    core.Session
	Documents  []core.Document
	Results    []core.ExtractionResult
	Findings   []core.Finding
	Alerts     []core.SAMRAlert
	Compliance *core.ComplianceReport
	Verdict    core.Verdict
	Synthesis  *core.Synthesis
}

// Output is the rendered workpaper and the hash embedded in its footer.
type Output struct {
	HTML []byte
	Hash string
}

var tmpl = template.Must(template.New("workpaper").Parse(workpaperHTML))

// Compose renders the workpaper. The integrity footer is the last line
// of the export, in the form `Session:<id> | Generated:<ISO8601> |
// SHA-256:<hex>`; the digest covers the entire rendered report body
// above that footer (the footer cannot cover its own hash), so
// VerifyBody can recompute it from the export alone.
func Compose(in Input) (Output, error) {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, in); err != nil {
		return Output{}, fmt.Errorf("rendering workpaper: %w", err)
	}

	sum := sha256.Sum256(body.Bytes())
	hash := hex.EncodeToString(sum[:])

	footer := fmt.Sprintf(
		"<footer class=\"integrity\">Session:%s | Generated:%s | SHA-256:%s</footer>\n</body>\n</html>\n",
		in.Session.ID, time.Now().UTC().Format(time.RFC3339), hash)

	out := append(body.Bytes(), []byte(footer)...)
	return Output{HTML: out, Hash: hash}, nil
}

// VerifyBody recomputes the body hash of a previously composed workpaper.
// html must be the full export; the footer locates the recorded hash.
func VerifyBody(html []byte) (recorded, computed string, ok bool) {
	idx := bytes.Index(html, []byte("<footer class=\"integrity\">"))
	if idx < 0 {
		return "", "", false
	}
	body := html[:idx]
	footer := html[idx:]

	marker := []byte("SHA-256:")
	h := bytes.Index(footer, marker)
	if h < 0 {
		return "", "", false
	}
	start := h + len(marker)
	end := bytes.IndexAny(footer[start:], "<| \n")
	if end < 0 {
		return "", "", false
	}
	recorded = string(footer[start : start+end])

	sum := sha256.Sum256(body)
	computed = hex.EncodeToString(sum[:])
	return recorded, computed, recorded == computed
}

const workpaperHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Reconciliation Workpaper {{.Session.ID}}</title>
<style>
body { font-family: Georgia, serif; margin: 2rem auto; max-width: 60rem; color: #1a1a1a; }
h1, h2 { border-bottom: 1px solid #ccc; padding-bottom: .3rem; }
table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
th, td { border: 1px solid #ddd; padding: .4rem .6rem; text-align: left; }
.verdict { font-size: 1.2rem; font-weight: bold; }
.verdict.matched { color: #1a7f37; }
.verdict.partial_match { color: #9a6700; }
.verdict.discrepancy { color: #cf222e; }
.finding.high, .finding.critical { background: #ffebe9; }
.finding.medium { background: #fff8c5; }
.cite { background: #ddf4ff; cursor: pointer; border-bottom: 1px dotted #0969da; }
.uncited { color: #999; font-style: italic; }
.alert { border-left: 4px solid #cf222e; padding: .5rem 1rem; margin: 1rem 0; background: #ffebe9; }
footer.integrity { margin-top: 3rem; font-family: monospace; font-size: .8rem; color: #555; border-top: 1px solid #ccc; padding-top: .5rem; }
</style>
</head>
<body>
<h1>Three-Way Match Workpaper</h1>
<p>Session <code>{{.Session.ID}}</code> &mdash; organization <code>{{.Session.OrgID}}</code></p>
<p class="verdict {{.Verdict}}">Verdict: {{.Verdict}}</p>

{{if .Synthesis}}
<h2>Reviewer Synthesis</h2>
<p>Status: {{.Synthesis.OverallStatus}} | Confidence: {{printf "%.2f" .Synthesis.Confidence}} | Recommendation: <strong>{{.Synthesis.Recommendation}}</strong></p>
<p>{{.Synthesis.AuditNarrative}}</p>
{{if .Synthesis.DiscrepancySummary}}
<ul>{{range .Synthesis.DiscrepancySummary}}<li>{{.}}</li>{{end}}</ul>
{{end}}
{{if .Synthesis.LineItemMatches}}
<table>
<tr><th>Match</th><th>Description</th><th>Status</th></tr>
{{range .Synthesis.LineItemMatches}}
<tr><td><code>{{.ID}}</code></td><td>{{.Description}}</td><td>{{.Status}}</td></tr>
{{end}}
</table>
{{end}}
{{end}}

<h2>Documents</h2>
<table>
<tr><th>Type</th><th>Filename</th><th>Vendor</th><th>Number</th><th>Version</th><th>Content hash</th></tr>
{{range .Documents}}
<tr><td>{{.Type}}</td><td>{{.Filename}}</td><td>{{.Vendor}}</td><td>{{.DocNumber}}</td><td>{{.Version}}</td><td><code>{{.ContentHash}}</code></td></tr>
{{end}}
</table>

<h2>Extracted Values</h2>
{{range .Results}}
<h3>{{.DocType}} &mdash; {{.DocNumber}}{{if .Partial}} (partial extraction){{end}}</h3>
<p>Method: <code>{{.Method}}</code> | Vendor: {{.Vendor}} | Total: {{.DocumentTotal}}</p>
<table>
<tr><th>#</th><th>Description</th><th>Part</th><th>Qty</th><th>Unit price</th><th>Line total</th></tr>
{{range $i, $li := .LineItems}}
<tr><td>{{$i}}</td><td>{{$li.Description}}</td><td>{{$li.PartNumber}}</td><td>{{$li.Quantity}}</td><td>{{$li.UnitPrice}}</td><td>{{$li.LineTotal}}</td></tr>
{{end}}
</table>
{{if .Citations}}
<p>Evidence citations:</p>
<ul>
{{range .Citations}}
<li><span class="cite" data-doc-id="{{.DocumentID}}" data-page="{{.Page}}">{{.Field}}</span>: &ldquo;{{.Snippet}}&rdquo; (page {{.Page}})</li>
{{end}}
</ul>
{{else}}
<p class="uncited">No field could be cited to source text.</p>
{{end}}
{{end}}

<h2>Findings</h2>
{{if .Findings}}
<table>
{{range .Findings}}
<tr class="finding {{.Severity}}"><td>{{.Type}}</td><td>{{.Severity}}</td><td>{{.Description}}{{if .Expected}}<br>expected {{.Expected}}, got {{.Actual}}{{end}}</td></tr>
{{end}}
</table>
{{else}}
<p>No discrepancies identified.</p>
{{end}}

{{range .Alerts}}
<div class="alert"><strong>Reasoning integrity alert</strong><br>{{.Interpretation}}</div>
{{end}}

{{if .Compliance}}
<h2>Compliance Review</h2>
<p>Status: {{.Compliance.Status}} | Risk score: {{printf "%.2f" .Compliance.RiskScore}} | Recommended action: {{.Compliance.RecommendedAction}}</p>
{{if .Compliance.PolicyViolations}}
<ul>{{range .Compliance.PolicyViolations}}<li>{{.}}</li>{{end}}</ul>
{{end}}
{{end}}
`
